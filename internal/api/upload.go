package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/spherical/takeoff/internal/domain"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Upload sends the whole file in one multipart request and returns the
// server-assigned identifier.
func (c *Client) Upload(ctx context.Context, file domain.UploadedFile) (*domain.UploadResponse, error) {
	msgs := errorMessages{
		transport: "Failed to upload file",
		unparsed:  "Upload failed",
		generic:   "Failed to upload PDF",
	}

	ctx, cancel := c.withRequestTimeout(ctx)
	defer cancel()

	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeMultipartFile(mw, file, src))
	}()
	// Unblocks the writer goroutine if the request ends before the body
	// is fully consumed.
	defer pr.Close()

	req, ctx, err := c.newRequest(ctx, http.MethodPost, "/upload", pr)
	if err != nil {
		return nil, domain.TransportError(msgs.transport, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	logger := c.logger.WithContext(ctx)
	logger.Info().Str("file", file.Name).Int64("size", file.Size).Msg("uploading file")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn().Err(err).Msg("upload request failed")
		return nil, domain.TransportError(msgs.transport, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		err := errorFromResponse(resp, msgs)
		logger.Warn().Int("status", resp.StatusCode).Err(err).Msg("upload rejected")
		return nil, err
	}

	var out domain.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, domain.ProtocolError("Malformed upload response", err)
	}
	logger.Info().Str("file_id", out.FileID).Int("pages", out.TotalPages).Msg("upload complete")
	return &out, nil
}

func writeMultipartFile(mw *multipart.Writer, file domain.UploadedFile, src io.Reader) error {
	contentType := file.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(file.Name)))
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	return mw.Close()
}
