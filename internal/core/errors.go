package core

import "fmt"

// Failure captures transport-neutral error details so that adapters can map
// them onto whatever wire protocol is in use. The taxonomy is intentionally
// small: invalid path, transport failure, no response, not initialised. A
// missing value is not a Failure; get reports it as absence.
type Failure struct {
	Code       string
	Detail     string
	HTTPStatus int // hint for the HTTP transport adapter
}

func (f Failure) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("%s: %s", f.Code, f.Detail)
	}
	return f.Code
}

// Well-known failure codes.
const (
	CodeInvalidPath     = "invalid_path"
	CodeTransportFailed = "transport_failure"
	CodeNoResponse      = "no_response"
	CodeNotInitialised  = "not_initialised"
)

// ErrInvalidPath reports a path that failed the dispatcher's validation.
// The transport server returns it to the caller with HTTP status 400.
func ErrInvalidPath(path string) error {
	return Failure{Code: CodeInvalidPath, Detail: path, HTTPStatus: 400}
}

// ErrNotInitialised reports a call made before init().
func ErrNotInitialised() error {
	return Failure{Code: CodeNotInitialised, HTTPStatus: 412}
}
