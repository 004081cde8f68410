package attachment

import "net/http"

// Error is a failed upload. Status is the HTTP status class the caller
// should answer with.
type Error struct {
	Status int
	Code   string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(status int, code, msg string, err error) *Error {
	return &Error{Status: status, Code: code, Msg: msg, Err: err}
}

func badRequest(code, msg string) *Error {
	return newError(http.StatusBadRequest, code, msg, nil)
}

func internal(msg string, err error) *Error {
	return newError(http.StatusInternalServerError, "internal", msg, err)
}
