package http

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxProductImages = 10

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

var allowedUploadFolders = map[string]bool{
	"avatars":  true,
	"products": true,
}

type uploadedFile struct {
	Filename     string `json:"filename"`
	URL          string `json:"url"`
	OriginalName string `json:"original_name,omitempty"`
}

type uploadResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func (s *Server) handleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	current := accountFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+64*1024)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Missing file")
		return
	}
	defer file.Close()

	filename, err := s.saveImage(file, header, "avatars")
	if err != nil {
		writeError(w, r, uploadStatus(err), err.Error())
		return
	}

	// The avatar reference moves over only after the new file is on disk;
	// if the reference update fails the new file is removed again.
	if err := s.store.UpdateAccountAvatar(r.Context(), current.UID, filename); err != nil {
		s.deleteUpload(filename, "avatars")
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}

	if current.AvatarURL != nil && *current.AvatarURL != "" {
		s.deleteUpload(*current.AvatarURL, "avatars")
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Success: true,
		Message: "Avatar uploaded successfully",
		Data: uploadedFile{
			Filename: filename,
			URL:      uploadURL(filename, "avatars"),
		},
	})
}

func (s *Server) handleUploadProductImages(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxProductImages)*s.cfg.MaxUploadBytes+64*1024)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid multipart body")
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, r, http.StatusBadRequest, "Missing files")
		return
	}
	if len(files) > maxProductImages {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("Too many files. Maximum %d images allowed", maxProductImages))
		return
	}

	uploaded := make([]uploadedFile, 0, len(files))
	for _, header := range files {
		file, err := header.Open()
		if err != nil {
			s.cleanupUploads(uploaded, "products")
			writeError(w, r, http.StatusInternalServerError, "Upload failed")
			return
		}
		filename, err := s.saveImage(file, header, "products")
		file.Close()
		if err != nil {
			// Files already written in this call are removed again; there is
			// no database state to roll back.
			s.cleanupUploads(uploaded, "products")
			writeError(w, r, uploadStatus(err), err.Error())
			return
		}
		uploaded = append(uploaded, uploadedFile{
			Filename:     filename,
			URL:          uploadURL(filename, "products"),
			OriginalName: header.Filename,
		})
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Success: true,
		Message: fmt.Sprintf("Uploaded %d images successfully", len(uploaded)),
		Data:    uploaded,
	})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	folder := chi.URLParam(r, "folder")
	filename := chi.URLParam(r, "filename")

	if !allowedUploadFolders[folder] {
		writeError(w, r, http.StatusBadRequest, "Invalid folder")
		return
	}
	if filename == "" || filename != filepath.Base(filename) {
		writeError(w, r, http.StatusBadRequest, "Invalid filename")
		return
	}

	if !s.deleteUpload(filename, folder) {
		writeError(w, r, http.StatusNotFound, "File not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "File deleted successfully",
	})
}

type uploadError struct {
	status  int
	message string
}

func (e *uploadError) Error() string { return e.message }

func uploadStatus(err error) int {
	if uerr, ok := err.(*uploadError); ok {
		return uerr.status
	}
	return http.StatusInternalServerError
}

func (s *Server) saveImage(file multipart.File, header *multipart.FileHeader, folder string) (string, error) {
	contentType := header.Header.Get("Content-Type")
	if !allowedImageTypes[contentType] {
		return "", &uploadError{status: http.StatusBadRequest, message: "File type not supported"}
	}
	if header.Size > s.cfg.MaxUploadBytes {
		return "", &uploadError{status: http.StatusBadRequest, message: fmt.Sprintf("File too large. Max size: %dMB", s.cfg.MaxUploadBytes/(1024*1024))}
	}

	ext := "jpg"
	if idx := strings.LastIndex(header.Filename, "."); idx >= 0 && idx < len(header.Filename)-1 {
		ext = strings.ToLower(header.Filename[idx+1:])
	}
	filename := uuid.NewString() + "." + ext

	dir := filepath.Join(s.cfg.UploadDir, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, filename)
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, io.LimitReader(file, s.cfg.MaxUploadBytes)); err != nil {
		out.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}

	return filename, nil
}

func (s *Server) deleteUpload(filename, folder string) bool {
	path := filepath.Join(s.cfg.UploadDir, folder, filepath.Base(filename))
	if err := os.Remove(path); err != nil {
		return false
	}
	return true
}

func (s *Server) cleanupUploads(uploaded []uploadedFile, folder string) {
	for _, file := range uploaded {
		s.deleteUpload(file.Filename, folder)
	}
}

func uploadURL(filename, folder string) string {
	return "/static/uploads/" + folder + "/" + filename
}
