/*
Package randx generates identifiers: session handles for live connections and
object keys for uploaded files.
*/
package randx

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

// SessionID returns a fresh UUID v4 used as the handle of one live connection.
func SessionID() string {
	return uuid.NewString()
}

// ObjectKey builds a storage key "<prefix>/<uuid><ext>". ext is lower-cased and
// must include its leading dot; an empty ext yields a key without extension.
func ObjectKey(prefix, ext string) string {
	name := uuid.NewString() + strings.ToLower(ext)
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
