package analysis

// InvalidInputError is returned when analyzer inputs fail validation.
// Nothing is partially computed when it fires.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid analysis input: " + e.Reason
}

// IsInvalidInput reports whether err is an input-validation failure.
func IsInvalidInput(err error) bool {
	_, ok := err.(*InvalidInputError)
	return ok
}
