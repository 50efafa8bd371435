package domain

import "context"

// PageSource turns an uploaded PDF into its ordered page images
type PageSource interface {
	// Pages rasterizes every page, ordered by page number ascending
	Pages(ctx context.Context, file UploadedFile) ([]PageImage, error)
}

// Uploader exchanges a file for a server-assigned identifier
type Uploader interface {
	Upload(ctx context.Context, file UploadedFile) (*UploadResponse, error)
}

// StreamProcessor runs page processing with streamed progress.
// onProgress fires for each progress event in stream order; onError fires
// once with the user-facing message when the run fails.
type StreamProcessor interface {
	ProcessPageStream(ctx context.Context, req ProcessRequest, onProgress func(ProgressEvent), onError func(string)) (*ProcessingResult, error)
}
