package pkg

import "fmt"

// InvariantError is the panic value raised when internal state is found
// inconsistent. A node that raised one must not be used further.
type InvariantError struct {
	Component Component
	Message   string
}

// Error implements error.
func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: invariant violated: %s", e.Component, e.Message)
}

// Assert panics with an [*InvariantError] when cond is false. The violation
// is logged at error level before the panic.
func Assert(cond bool, component Component, format string, args ...any) {
	if cond {
		return
	}
	msg := fmt.Sprintf(format, args...)
	LogError(component, "invariant violated", "detail", msg)
	panic(&InvariantError{Component: component, Message: msg})
}
