package handler

import (
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"geomap/internal/app/storage"
	"geomap/internal/pkg/errs"
	"geomap/internal/pkg/logx"
	"geomap/internal/pkg/randx"
	"geomap/internal/pkg/req"
	"geomap/internal/pkg/resp"
)

// sniffLen is how many leading bytes http.DetectContentType inspects.
const sniffLen = 512

// UploadResult is returned by a successful upload.
type UploadResult struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

// HandleUpload accepts a multipart "file" image, stores it and returns its public URL.
// The returned URL is what clients put in the avatar field of their profile.
func HandleUpload(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if customErr := req.SetupMultipart(w, r); customErr != nil {
			resp.RespondError(w, customErr)
			return
		}
		defer func() {
			if r.MultipartForm != nil {
				_ = r.MultipartForm.RemoveAll()
			}
		}()

		file, header, err := r.FormFile("file")
		if err != nil {
			resp.RespondError(w, errs.NewError(errs.ErrFileMissing))
			return
		}
		defer file.Close()

		if customErr := storage.ValidateFileSize(header.Size); customErr != nil {
			resp.RespondError(w, customErr)
			return
		}

		mimeType, err := sniffMIME(file)
		if err != nil {
			resp.RespondError(w, errs.NewError(errs.ErrFormParseFailed))
			return
		}

		if customErr := storage.ValidateFileType(header.Filename, mimeType); customErr != nil {
			resp.RespondError(w, customErr)
			return
		}

		key := randx.ObjectKey(storage.AvatarPrefix, filepath.Ext(header.Filename))

		url, err := deps.StorageService.Upload(r.Context(), key, file, header.Size, mimeType)
		if err != nil {
			logx.Error(err, "Avatar upload failed", "key", key, "backend", deps.StorageService.Backend())
			resp.RespondError(w, errs.NewError(errs.ErrFileStorageFailed))
			return
		}

		logx.Info("Avatar uploaded.", "key", key, "size", header.Size, "mime", mimeType)
		resp.RespondSuccess(w, UploadResult{URL: url, Key: key})
	}
}

// sniffMIME detects the content type from the leading bytes and rewinds the file.
func sniffMIME(file multipart.File) (string, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	return http.DetectContentType(head[:n]), nil
}
