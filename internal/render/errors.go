package render

import "fmt"

// TemplateError reports a defect in the base template or the overrides.
// It is fatal and never retried.
type TemplateError struct {
	Reason string
	Err    error
}

func (e *TemplateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("template error: %s: %v", e.Reason, e.Err)
	}
	return "template error: " + e.Reason
}

func (e *TemplateError) Unwrap() error { return e.Err }

func templateErrorf(err error, format string, args ...any) error {
	return &TemplateError{Reason: fmt.Sprintf(format, args...), Err: err}
}
