package driver

import "fmt"

// OpError reports a failed token operation.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// TokenError carries an error report the token wrote to its control
// output, attached to the transfer error that led the driver to look.
type TokenError struct {
	Message string
	Err     error
}

func (e *TokenError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("token reported %q", e.Message)
	}
	return fmt.Sprintf("token reported %q: %v", e.Message, e.Err)
}

func (e *TokenError) Unwrap() error {
	return e.Err
}
