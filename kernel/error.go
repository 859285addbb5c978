package kernel

// Error describes a kernel error. Kernel errors are defined as global
// variables that are pointers to the Error structure so that comparing
// a returned error against a sentinel is a simple pointer comparison
// and no allocation happens on the error path.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
