/*
Package errs holds the errors the HTTP layer reports to clients.

Each CustomError pairs a numeric business code with a client-facing message and the
HTTP status it is sent with. Codes and their templates live in error_codes.go and
error_map.go; handlers only ever build errors through NewError.
*/
package errs

import (
	"fmt"
	"net/http"
	"strings"

	"geomap/internal/pkg/logx"
)

// CustomError is an error that can be written straight into a response envelope.
type CustomError struct {
	Code    int
	Message string

	// Status is the HTTP status; zero in the map means 200 with an error code in the body.
	Status int
}

func (e CustomError) Error() string {
	return fmt.Sprintf("code %d (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// NewError copies the template registered for code. details fill the message's
// printf verbs, if it has any. Unregistered codes become ErrUnknown.
func NewError(code int, details ...any) *CustomError {
	tmpl, ok := errorMap[code]
	if !ok {
		logx.Warn("Unregistered error code, reporting ErrUnknown.", "code", code)
		tmpl = errorMap[ErrUnknown]
	}

	out := tmpl
	if out.Status == 0 {
		out.Status = http.StatusOK
	}

	if len(details) > 0 && strings.Contains(out.Message, "%") {
		out.Message = fmt.Sprintf(out.Message, details...)
	}

	return &out
}
