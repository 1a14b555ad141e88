package http

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dropshop/backend/internal/config"
)

func newUploadServer(t *testing.T) *Server {
	cfg := config.Config{
		UploadDir:      t.TempDir(),
		MaxUploadBytes: 1024,
	}
	return NewServer(cfg, nil, nil)
}

func multipartUpload(t *testing.T, field, filename, contentType string, content []byte) (multipart.File, *multipart.FileHeader) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/upload/avatar", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	file, fileHeader, err := req.FormFile(field)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	return file, fileHeader
}

func TestSaveImage(t *testing.T) {
	server := newUploadServer(t)
	file, header := multipartUpload(t, "file", "photo.png", "image/png", []byte("png-bytes"))
	defer file.Close()

	filename, err := server.saveImage(file, header, "avatars")
	if err != nil {
		t.Fatalf("save error: %v", err)
	}
	if !strings.HasSuffix(filename, ".png") {
		t.Fatalf("expected .png suffix, got %s", filename)
	}

	data, err := os.ReadFile(filepath.Join(server.cfg.UploadDir, "avatars", filename))
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("unexpected file content %q", data)
	}
}

func TestSaveImageRejectsType(t *testing.T) {
	server := newUploadServer(t)
	file, header := multipartUpload(t, "file", "notes.txt", "text/plain", []byte("hello"))
	defer file.Close()

	if _, err := server.saveImage(file, header, "avatars"); err == nil {
		t.Fatalf("expected unsupported type to fail")
	} else if uploadStatus(err) != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", uploadStatus(err))
	}
}

func TestSaveImageRejectsOversize(t *testing.T) {
	server := newUploadServer(t)
	file, header := multipartUpload(t, "file", "big.jpg", "image/jpeg", bytes.Repeat([]byte("a"), 2048))
	defer file.Close()

	if _, err := server.saveImage(file, header, "avatars"); err == nil {
		t.Fatalf("expected oversize upload to fail")
	}
}

func TestDeleteUpload(t *testing.T) {
	server := newUploadServer(t)
	file, header := multipartUpload(t, "file", "photo.jpg", "image/jpeg", []byte("jpg"))
	defer file.Close()

	filename, err := server.saveImage(file, header, "products")
	if err != nil {
		t.Fatalf("save error: %v", err)
	}
	if !server.deleteUpload(filename, "products") {
		t.Fatalf("expected delete to succeed")
	}
	if server.deleteUpload(filename, "products") {
		t.Fatalf("expected second delete to fail")
	}
}
