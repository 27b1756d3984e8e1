/*
Package errs provides custom error types and application-level error code constants.

These error codes identify request, upload and presence failures both inside the server
and in the JSON envelopes returned by the HTTP endpoints.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrFormParseFailed indicates failure to parse multipart or URL-encoded form data.
	ErrFormParseFailed = 1005

	// ErrRequestEntityTooLarge indicates that the request body size exceeded the server limit.
	ErrRequestEntityTooLarge = 1006

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Upload Errors
const (
	// ErrFileMissing indicates that the multipart form carried no "file" part.
	ErrFileMissing = 2001

	// ErrFileTypeInvalid indicates that the file extension or MIME type is not an allowed image type.
	ErrFileTypeInvalid = 2002

	// ErrFileSizeTooLarge indicates that the uploaded file exceeds the size limit.
	ErrFileSizeTooLarge = 2003
)

// 4xxx: Presence Errors
const (
	// ErrUserNotFound indicates that no record exists for the requested username.
	ErrUserNotFound = 4001
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrFileStorageFailed indicates that the storage backend rejected or failed the write.
	ErrFileStorageFailed = 5001
)
