// Package main is the entry point for the whiteboard server.
//
// The process hosts a capability registry, an HTTP serving runtime and
// one whiteboard context per configured entry. Providers registered into
// the registry at runtime are composed into live HTTP deployments; their
// withdrawal tears the deployments down again.
//
// Configuration:
//   - Environment variables (12-factor): PORT, HOST, LOG_LEVEL, LOG_DEV,
//     RATE_LIMIT_*, CORS_ENABLED
//   - WHITEBOARD_CONFIG: optional YAML file declaring named contexts
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
package main
