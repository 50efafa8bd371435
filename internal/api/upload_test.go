package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/takeoff/internal/domain"
	"github.com/spherical/takeoff/internal/fakeserver"
)

const onePagePDF = "%PDF-1.4\n1 0 obj << /Type /Page >> endobj\n%%EOF\n"

func newBackend(t *testing.T, opts ...fakeserver.Option) (*fakeserver.Server, *Client) {
	t.Helper()
	backend := fakeserver.New(opts...)
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)
	return backend, NewClient(srv.URL, "")
}

func pdfUpload() domain.UploadedFile {
	return domain.UploadedFile{
		Name:     "floor \"1\".pdf",
		MimeType: domain.MIMETypePDF,
		Content:  []byte(onePagePDF),
		Size:     int64(len(onePagePDF)),
	}
}

func TestUpload_Success(t *testing.T) {
	backend, client := newBackend(t)

	resp, err := client.Upload(context.Background(), pdfUpload())
	require.NoError(t, err)
	assert.NotEmpty(t, resp.FileID)
	assert.Equal(t, "floor \"1\".pdf", resp.Filename)
	assert.Equal(t, 1, resp.TotalPages)
	assert.Equal(t, int64(len(onePagePDF)), resp.FileSizeBytes)
	assert.Equal(t, 1, backend.Uploads())

	h := resp.Handle()
	assert.Equal(t, resp.FileID, h.FileID)
}

func TestUpload_ErrorMessages(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"detail surfaced verbatim", http.StatusBadRequest, `{"detail":"File too large"}`, "File too large"},
		{"json without detail", http.StatusInternalServerError, `{"error":"boom"}`, "Failed to upload PDF"},
		{"unparseable body", http.StatusBadGateway, `<html>bad gateway</html>`, "Upload failed"},
		{"structured detail", http.StatusUnprocessableEntity, `{"detail":[{"loc":["body","file"],"msg":"field required"}]}`, `[{"loc":["body","file"],"msg":"field required"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client := newBackend(t, fakeserver.WithUploadFailure(tt.status, tt.body))

			_, err := client.Upload(context.Background(), pdfUpload())
			require.Error(t, err)
			assert.True(t, domain.IsType(err, domain.ErrorTypeServer))
			assert.Equal(t, tt.want, domain.UserMessage(err))
		})
	}
}

func TestUpload_RejectsNonPDF(t *testing.T) {
	_, client := newBackend(t)

	_, err := client.Upload(context.Background(), domain.UploadedFile{Name: "notes.txt", Content: []byte("hi")})
	require.Error(t, err)
	assert.Equal(t, "Only PDF files are supported", domain.UserMessage(err))
}

func TestUpload_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(url, "")
	_, err := client.Upload(context.Background(), pdfUpload())
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeTransport))
	assert.Equal(t, "Failed to upload file", domain.UserMessage(err))
}

func TestUpload_SendsMultipartFile(t *testing.T) {
	var gotName, gotType, gotRequestID string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/upload", r.URL.Path)
		gotRequestID = r.Header.Get(requestIDHeader)
		f, h, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		gotName = h.Filename
		gotType = h.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(f)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"file_id":"abc","filename":"x.pdf","total_pages":3}`)
	}))
	t.Cleanup(srv.Close)

	resp, err := NewClient(srv.URL, "").Upload(context.Background(), pdfUpload())
	require.NoError(t, err)
	assert.Equal(t, "abc", resp.FileID)
	assert.Equal(t, "floor \"1\".pdf", gotName)
	assert.Equal(t, domain.MIMETypePDF, gotType)
	assert.Equal(t, onePagePDF, string(gotBody))
	assert.NotEmpty(t, gotRequestID)
}

func TestUpload_RequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "", WithRequestTimeout(50*time.Millisecond))
	_, err := client.Upload(context.Background(), pdfUpload())
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeTransport))
}
