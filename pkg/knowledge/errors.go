package knowledge

import "fmt"

// ConfigurationError reports an unsupported or inconsistent setting, such as
// an unknown model name, an unknown mode or incompatible embedding widths.
type ConfigurationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("configuration: %s %q not supported", e.Field, e.Value)
	}
	return fmt.Sprintf("configuration: %s %q: %s", e.Field, e.Value, e.Reason)
}

// ShapeError reports a batch whose dimensions are inconsistent or whose ids
// fall outside the table they index.
type ShapeError struct {
	Op     string
	Reason string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("shape: %s: %s", e.Op, e.Reason)
}

func shapeErrorf(op, format string, args ...any) error {
	return &ShapeError{Op: op, Reason: fmt.Sprintf(format, args...)}
}
