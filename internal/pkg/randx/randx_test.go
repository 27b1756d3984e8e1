package randx

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionIDIsUniqueUUID(t *testing.T) {
	a, b := SessionID(), SessionID()

	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	require.NoError(t, err)
}

func TestObjectKey(t *testing.T) {
	key := ObjectKey("avatars", ".PNG")

	require.True(t, strings.HasPrefix(key, "avatars/"))
	require.True(t, strings.HasSuffix(key, ".png"))

	_, err := uuid.Parse(strings.TrimSuffix(strings.TrimPrefix(key, "avatars/"), ".png"))
	assert.NoError(t, err)

	assert.False(t, strings.Contains(ObjectKey("", ".gif"), "/"))
}
