package resp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geomap/internal/pkg/errs"
)

func TestRespondSuccess(t *testing.T) {
	rec := httptest.NewRecorder()

	RespondSuccess(rec, map[string]string{"status": "ok"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Code    int               `json:"code"`
		Message string            `json:"message"`
		Data    map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Code)
	assert.Equal(t, "ok", body.Data["status"])
}

func TestRespondErrorUsesMappedStatus(t *testing.T) {
	rec := httptest.NewRecorder()

	RespondError(rec, errs.NewError(errs.ErrUserNotFound))

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body JSONResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, errs.ErrUserNotFound, body.Code)
	assert.Nil(t, body.Data)
}

func TestRespondErrorNilFallsBackToUnknown(t *testing.T) {
	rec := httptest.NewRecorder()

	RespondError(rec, nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
