package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"geomap/internal/app/user"
	"geomap/internal/pkg/errs"
	"geomap/internal/pkg/resp"
)

// HandleListUsers returns every record as a GeoJSON FeatureCollection.
func HandleListUsers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, user.FeatureCollection(deps.Hub.Store().All()))
	}
}

// HandleGetUser returns the record of a single identity as a GeoJSON Feature.
func HandleGetUser(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := chi.URLParam(r, "username")
		if username == "" {
			resp.RespondError(w, errs.NewError(errs.ErrInvalidParams))
			return
		}

		rec, ok := deps.Hub.Store().Get(username)
		if !ok {
			resp.RespondError(w, errs.NewError(errs.ErrUserNotFound))
			return
		}

		resp.RespondSuccess(w, rec.Feature())
	}
}
