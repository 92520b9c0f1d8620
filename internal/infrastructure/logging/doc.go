// Package logging builds the process logger: JSON output in production,
// colored console output in development. Components receive a
// *zap.Logger and never construct their own.
package logging
