package chat

import "errors"

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotFound       = errors.New("not found")
)

// InvalidRequestError carries the client-facing message for a 400.
type InvalidRequestError struct {
	Msg string
}

func (e *InvalidRequestError) Error() string { return e.Msg }

func (e *InvalidRequestError) Is(target error) bool { return target == ErrInvalidRequest }

func invalid(msg string) error { return &InvalidRequestError{Msg: msg} }

// StoreError wraps a persistence failure. Error() is the underlying message
// so it can be passed through to the caller.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
