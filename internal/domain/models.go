package domain

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MIMETypePDF is the content type the wizard treats as a PDF upload.
const MIMETypePDF = "application/pdf"

// UploadedFile is a file the user handed to the wizard. Content, when set,
// takes precedence over Path.
type UploadedFile struct {
	Name     string
	Size     int64
	MimeType string
	Path     string
	Content  []byte
}

// NewUploadedFile describes the file at path, detecting its MIME type from
// the extension and falling back to content sniffing.
func NewUploadedFile(path string) (UploadedFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return UploadedFile{}, IOError("cannot access file: "+path, err)
	}
	if info.IsDir() {
		return UploadedFile{}, ValidationError("path is a directory, not a file: "+path, nil)
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" {
		mimeType = sniffMIME(path)
	}
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}

	return UploadedFile{
		Name:     filepath.Base(path),
		Size:     info.Size(),
		MimeType: mimeType,
		Path:     path,
	}, nil
}

func sniffMIME(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	return http.DetectContentType(head[:n])
}

// IsPDF reports whether the file is recognised as a PDF by MIME type or by
// file name extension.
func (f UploadedFile) IsPDF() bool {
	return f.MimeType == MIMETypePDF || strings.HasSuffix(strings.ToLower(f.Name), ".pdf")
}

// Open returns a reader over the file's bytes.
func (f UploadedFile) Open() (io.ReadCloser, error) {
	if f.Content != nil {
		return io.NopCloser(bytes.NewReader(f.Content)), nil
	}
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, IOError("cannot open file: "+f.Name, err)
	}
	return file, nil
}

// ReadAll returns the complete file contents.
func (f UploadedFile) ReadAll() ([]byte, error) {
	if f.Content != nil {
		return f.Content, nil
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, IOError("cannot read file: "+f.Name, err)
	}
	return data, nil
}

// FirstPDF returns the first file recognised as a PDF.
func FirstPDF(files []UploadedFile) (UploadedFile, bool) {
	for _, f := range files {
		if f.IsPDF() {
			return f, true
		}
	}
	return UploadedFile{}, false
}

// PageImage represents a single rasterized PDF page
type PageImage struct {
	PageNumber int    `msgpack:"page_number"`
	Image      []byte `msgpack:"image"` // PNG
	Width      int    `msgpack:"width"`
	Height     int    `msgpack:"height"`
	Thumbnail  []byte `msgpack:"thumbnail,omitempty"` // PNG
}

// Trade is one entry of the trade catalogue the user chooses from.
type Trade struct {
	ID   string
	Name string
}

// ModelType is the server-side detection model token.
type ModelType string

const (
	ModelElectrical    ModelType = "electrical"
	ModelMechanical    ModelType = "mechanical"
	ModelFireAlarm     ModelType = "fire_alarm"
	ModelFireSprinkler ModelType = "fire_sprinkler"
	ModelPlumbing      ModelType = "plumbing"
)

// RemoteFileHandle identifies an upload on the server.
type RemoteFileHandle struct {
	FileID     string
	Filename   string
	TotalPages int
}

// UploadResponse is the body returned by POST /upload.
type UploadResponse struct {
	FileID          string `json:"file_id"`
	Filename        string `json:"filename"`
	FileSizeBytes   int64  `json:"file_size_bytes"`
	TotalPages      int    `json:"total_pages"`
	UploadTimestamp string `json:"upload_timestamp"`
	StoragePath     string `json:"storage_path"`
}

// Handle converts the upload response into a RemoteFileHandle.
func (r UploadResponse) Handle() RemoteFileHandle {
	return RemoteFileHandle{
		FileID:     r.FileID,
		Filename:   r.Filename,
		TotalPages: r.TotalPages,
	}
}

// ProcessRequest is the body of the process-page endpoints.
type ProcessRequest struct {
	FileID               string    `json:"file_id"`
	PageNumber           int       `json:"page_number"`
	ModelType            ModelType `json:"model_type"`
	IncludeRawDetections bool      `json:"include_raw_detections"`
}

// ProgressEvent is a transient status update from the processing stream.
// Percent is clamped to 0-100 and Total is never negative.
type ProgressEvent struct {
	Percent int    `json:"percent"`
	Total   int    `json:"total,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// UnmarshalJSON accepts fractional percent values and clamps the result.
func (p *ProgressEvent) UnmarshalJSON(data []byte) error {
	var aux struct {
		Percent float64 `json:"percent"`
		Total   float64 `json:"total"`
		Status  string  `json:"status"`
		Message string  `json:"message"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*p = ProgressEvent{
		Percent: clampInt(math.Round(aux.Percent), 0, 100),
		Total:   clampInt(aux.Total, 0, math.MaxInt32),
		Status:  aux.Status,
		Message: aux.Message,
	}
	return nil
}

// clampInt bounds f before converting it, since out-of-range float to int
// conversions are implementation defined.
func clampInt(f, lo, hi float64) int {
	return int(max(lo, min(hi, f)))
}

// Detection is a single raw detection box.
type Detection struct {
	ClassName  string    `json:"class_name"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"`
	TileIndex  *int      `json:"tile_index,omitempty"`
}

// ConfidenceStats summarises detection confidence.
type ConfidenceStats struct {
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// DetectionSummary is the detector section of a processing result.
type DetectionSummary struct {
	TotalDetections   int             `json:"total_detections"`
	DetectionsByClass map[string]int  `json:"detections_by_class"`
	ConfidenceStats   ConfidenceStats `json:"confidence_stats"`
	AllDetections     []Detection     `json:"all_detections,omitempty"`
}

// Analysis is the language-model section of a processing result.
type Analysis struct {
	FormattedOutput string `json:"formatted_output"`
}

// ProcessingResult is the terminal artifact of one processing run.
type ProcessingResult struct {
	FileID                string           `json:"file_id"`
	PageNumber            int              `json:"page_number"`
	TotalTilesProcessed   int              `json:"total_tiles_processed"`
	ProcessingTimeSeconds float64          `json:"processing_time_seconds"`
	Detections            DetectionSummary `json:"yolo_results"`
	Analysis              Analysis         `json:"gemini_analysis"`
	Status                string           `json:"status"`
}

// ProcessingTime returns the server-reported processing time.
func (r ProcessingResult) ProcessingTime() time.Duration {
	return time.Duration(r.ProcessingTimeSeconds * float64(time.Second))
}

// FileInfo is the body returned by GET /file-info/{id}.
type FileInfo struct {
	FileID     string `json:"file_id"`
	Filename   string `json:"filename"`
	NumPages   int    `json:"num_pages"`
	UploadTime string `json:"upload_time"`
}

// ModelInfo describes one detection model offered by the server.
type ModelInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Classes     []string `json:"classes"`
}

// HealthStatus is the body returned by GET /health.
type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
