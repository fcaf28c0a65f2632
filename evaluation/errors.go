package evaluation

// ValidationError rejects a request before any side effect happens
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var (
	ErrMissingFields       = &ValidationError{Message: "Missing required fields"}
	ErrUnsupportedLanguage = &ValidationError{Message: "Only Python language is supported at this time"}
)
