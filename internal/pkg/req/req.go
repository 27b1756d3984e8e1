/*
Package req provides helpers for parsing HTTP request bodies.

Only multipart form handling is needed: the upload endpoint is the sole
HTTP surface that accepts a body.
*/
package req

import (
	"errors"
	"net/http"

	"geomap/internal/pkg/errs"
)

const (
	// MaxFormMemory is the amount of a multipart body ParseMultipartForm keeps in memory
	// before spilling file parts to temporary files.
	MaxFormMemory int64 = 8 << 20 // 8 MB

	// MaxRequestBodySize caps the whole multipart request, including the file and form overhead.
	MaxRequestBodySize int64 = 6 << 20 // 6 MB
)

// SetupMultipart limits the request body and parses it as a multipart form.
func SetupMultipart(w http.ResponseWriter, r *http.Request) *errs.CustomError {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	if err := r.ParseMultipartForm(MaxFormMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errs.NewError(errs.ErrRequestEntityTooLarge)
		}
		if errors.Is(err, http.ErrNotMultipart) {
			return errs.NewError(errs.ErrUnsupportedMediaType)
		}

		return errs.NewError(errs.ErrFormParseFailed)
	}

	return nil
}
