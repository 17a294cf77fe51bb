package catalog

import "fmt"

// SchemaError reports a problem detected while constructing a plan:
// unknown column names, bad type tags, malformed specs. It is always
// raised synchronously, never deferred to execution.
type SchemaError struct {
	msg string
}

func (e *SchemaError) Error() string { return e.msg }

// Schemaf builds a SchemaError from a format string
func Schemaf(format string, args ...interface{}) *SchemaError {
	return &SchemaError{msg: fmt.Sprintf(format, args...)}
}

// IsSchemaError reports whether err is (or wraps) a SchemaError
func IsSchemaError(err error) bool {
	for err != nil {
		if _, ok := err.(*SchemaError); ok {
			return true
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// OperationError reports a failure appending an operator or running the
// pipeline. It carries the originating error as context.
type OperationError struct {
	Context string
	Cause   error
}

func (e *OperationError) Error() string {
	if e.Cause == nil {
		return e.Context
	}
	return fmt.Sprintf("%s: %v", e.Context, e.Cause)
}

func (e *OperationError) Unwrap() error { return e.Cause }

// Operationf wraps cause with a formatted context message
func Operationf(cause error, format string, args ...interface{}) *OperationError {
	return &OperationError{Context: fmt.Sprintf(format, args...), Cause: cause}
}
