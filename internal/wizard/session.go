package wizard

import (
	"maps"
	"slices"

	"github.com/spherical/takeoff/internal/domain"
)

// Step is a wizard step.
type Step int

const (
	StepUpload     Step = 1
	StepSelectPage Step = 2
	StepResults    Step = 3
)

func (s Step) String() string {
	switch s {
	case StepUpload:
		return "upload"
	case StepSelectPage:
		return "select-page"
	case StepResults:
		return "results"
	}
	return "unknown"
}

// session is the mutable wizard state. Handle is set if and only if Step is
// at least StepSelectPage; SelectedPage is 0 when nothing is selected.
type session struct {
	step         Step
	files        []domain.UploadedFile
	trade        *domain.Trade
	handle       *domain.RemoteFileHandle
	pages        []domain.PageImage
	selectedPage int
	progress     *domain.ProgressEvent
	result       *domain.ProcessingResult
	err          string

	uploading    bool
	processing   bool
	loadingPages bool
}

func newSession() session {
	return session{step: StepUpload}
}

func (s *session) busy() bool {
	return s.uploading || s.processing
}

// pageCount is the number of selectable pages, preferring the local page
// set over the server's count.
func (s *session) pageCount() int {
	if len(s.pages) > 0 {
		return len(s.pages)
	}
	if s.handle != nil {
		return s.handle.TotalPages
	}
	return 0
}

// Snapshot is a deep copy of the wizard session. Changing it does not
// affect the session or other snapshots.
type Snapshot struct {
	Open         bool
	Step         Step
	Files        []domain.UploadedFile
	Trade        *domain.Trade
	Handle       *domain.RemoteFileHandle
	Pages        []domain.PageImage
	SelectedPage int
	Progress     *domain.ProgressEvent
	Result       *domain.ProcessingResult
	Error        string

	Uploading    bool
	Processing   bool
	LoadingPages bool
}

func (s *session) snapshot(open bool) Snapshot {
	return Snapshot{
		Open:         open,
		Step:         s.step,
		Files:        slices.Clone(s.files),
		Trade:        clonePtr(s.trade),
		Handle:       clonePtr(s.handle),
		Pages:        slices.Clone(s.pages),
		SelectedPage: s.selectedPage,
		Progress:     clonePtr(s.progress),
		Result:       cloneResult(s.result),
		Error:        s.err,
		Uploading:    s.uploading,
		Processing:   s.processing,
		LoadingPages: s.loadingPages,
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneResult(r *domain.ProcessingResult) *domain.ProcessingResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Detections.DetectionsByClass = maps.Clone(r.Detections.DetectionsByClass)
	c.Detections.AllDetections = slices.Clone(r.Detections.AllDetections)
	for i, d := range c.Detections.AllDetections {
		c.Detections.AllDetections[i].BBox = slices.Clone(d.BBox)
		c.Detections.AllDetections[i].TileIndex = clonePtr(d.TileIndex)
	}
	return &c
}
