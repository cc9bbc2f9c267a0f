package codec

import "fmt"

// DecodeError indicates a stored blob or string could not be decoded.
// Callers treat affected values as absent rather than failing the
// operation that loaded them.
type DecodeError struct {
	Kind string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func IsDecodeError(err error) bool {
	_, ok := err.(*DecodeError)
	return ok
}
