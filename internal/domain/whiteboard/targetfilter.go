package whiteboard

import (
	"go.uber.org/zap"

	"github.com/bayside-labs/whiteboard/internal/domain/registry"
)

// targetFilter scopes a provider stream to one context: a provider may
// declare a target selector evaluated against the bound runtime
// capability's properties. Absent selector matches everything; a
// selector that fails to parse excludes the provider.
func targetFilter(runtime registry.Capability, log *zap.Logger) func(registry.Capability) bool {
	return func(c registry.Capability) bool {
		expr, ok := c.Properties.String(PropTarget)
		if !ok {
			return true
		}
		f, err := registry.ParseFilter(expr)
		if err != nil {
			log.Warn("provider declares malformed target selector, skipping",
				zap.String("capability", c.ID),
				zap.String("target", expr),
				zap.Error(err),
			)
			return false
		}
		return f.Matches(runtime)
	}
}
