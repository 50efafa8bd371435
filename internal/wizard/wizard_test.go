package wizard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/takeoff/internal/domain"
)

type fakeUploader struct {
	mu      sync.Mutex
	calls   []domain.UploadedFile
	resp    *domain.UploadResponse
	err     error
	block   chan struct{}
	started chan struct{}
	ctxErr  error
}

func (f *fakeUploader) Upload(ctx context.Context, file domain.UploadedFile) (*domain.UploadResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, file)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			f.mu.Lock()
			f.ctxErr = ctx.Err()
			f.mu.Unlock()
			return nil, ctx.Err()
		}
	}
	return f.resp, f.err
}

func (f *fakeUploader) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeProcessor struct {
	mu       sync.Mutex
	requests []domain.ProcessRequest
	progress []domain.ProgressEvent
	result   *domain.ProcessingResult
	errMsg   string
	block    chan struct{}
	started  chan struct{}
}

func (f *fakeProcessor) ProcessPageStream(ctx context.Context, req domain.ProcessRequest, onProgress func(domain.ProgressEvent), onError func(string)) (*domain.ProcessingResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	for _, p := range f.progress {
		onProgress(p)
	}
	if f.errMsg != "" {
		onError(f.errMsg)
		return nil, domain.ServerError(f.errMsg, nil)
	}
	res := *f.result
	res.PageNumber = req.PageNumber
	return &res, nil
}

func (f *fakeProcessor) lastRequest() domain.ProcessRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakePages struct {
	pages []domain.PageImage
	err   error
	calls int
}

func (f *fakePages) Pages(ctx context.Context, file domain.UploadedFile) ([]domain.PageImage, error) {
	f.calls++
	return f.pages, f.err
}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) observe(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) progress() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, s := range r.snaps {
		if s.Progress != nil {
			out = append(out, s.Progress.Percent)
		}
	}
	return out
}

var twoPages = []domain.PageImage{
	{PageNumber: 1, Image: []byte{1}},
	{PageNumber: 2, Image: []byte{2}},
}

func pdfFile() domain.UploadedFile {
	return domain.UploadedFile{Name: "plans.pdf", Size: 4, MimeType: domain.MIMETypePDF, Content: []byte("%PDF")}
}

type harness struct {
	w         *Wizard
	uploader  *fakeUploader
	processor *fakeProcessor
	pages     *fakePages
	rec       *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		uploader: &fakeUploader{resp: &domain.UploadResponse{FileID: "f1", Filename: "plans.pdf", TotalPages: 2}},
		processor: &fakeProcessor{
			progress: []domain.ProgressEvent{{Percent: 50, Status: "running", Message: "halfway"}},
			result:   &domain.ProcessingResult{FileID: "f1", Status: "completed"},
		},
		pages: &fakePages{pages: twoPages},
		rec:   &recorder{},
	}
	h.w = New(h.uploader, h.processor, h.pages, WithObserver(h.rec.observe))
	h.w.Open()
	return h
}

// toPageStep uploads a PDF with the fire alarm trade and lands on step 2.
func (h *harness) toPageStep(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.w.AddFiles(ctx, pdfFile()))
	require.NoError(t, h.w.SelectTradeByID("fire-alarm-detector-v1"))
	require.NoError(t, h.w.Next(ctx))
	require.Equal(t, StepSelectPage, h.w.Snapshot().Step)
}

func (h *harness) toResultsStep(t *testing.T) {
	t.Helper()
	h.toPageStep(t)
	require.NoError(t, h.w.SelectPage(1))
	require.NoError(t, h.w.Next(context.Background()))
	require.Equal(t, StepResults, h.w.Snapshot().Step)
}

func TestNext_StepOneGuardIsNoOp(t *testing.T) {
	t.Run("no trade", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.w.AddFiles(context.Background(), pdfFile()))
		before := h.w.Snapshot()

		err := h.w.Next(context.Background())
		require.Error(t, err)
		assert.True(t, domain.IsType(err, domain.ErrorTypeGuard))
		assert.Equal(t, before, h.w.Snapshot())
		assert.Zero(t, h.uploader.count())
	})

	t.Run("no files", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.w.SelectTradeByID("plumbing-detector"))
		before := h.w.Snapshot()
		assert.False(t, h.w.CanAdvance())

		err := h.w.Next(context.Background())
		assert.True(t, domain.IsType(err, domain.ErrorTypeGuard))
		assert.Equal(t, before, h.w.Snapshot())
		assert.Zero(t, h.uploader.count())
	})
}

func TestNext_UploadsAndAdvances(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.w.AddFiles(ctx, pdfFile()))
	assert.Len(t, h.w.Snapshot().Pages, 2)
	require.NoError(t, h.w.SelectTradeByID("fire-alarm-detector-v1"))
	assert.True(t, h.w.CanAdvance())

	require.NoError(t, h.w.Next(ctx))

	snap := h.w.Snapshot()
	assert.Equal(t, 1, h.uploader.count())
	assert.Equal(t, StepSelectPage, snap.Step)
	require.NotNil(t, snap.Handle)
	assert.Equal(t, "f1", snap.Handle.FileID)
	assert.False(t, snap.Uploading)
	assert.Empty(t, snap.Error)
}

func TestNext_UploadsFirstPDF(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	notes := domain.UploadedFile{Name: "notes.txt", MimeType: "text/plain", Content: []byte("x")}
	scan := domain.UploadedFile{Name: "SCAN.PDF", Content: []byte("%PDF")}
	require.NoError(t, h.w.AddFiles(ctx, notes, scan, pdfFile()))
	require.NoError(t, h.w.SelectTradeByID("mechanical-symbol-detector"))
	require.NoError(t, h.w.Next(ctx))

	require.Equal(t, 1, h.uploader.count())
	assert.Equal(t, "SCAN.PDF", h.uploader.calls[0].Name)
}

func TestNext_UploadFailureStaysOnStepOne(t *testing.T) {
	h := newHarness(t)
	h.uploader.resp = nil
	h.uploader.err = domain.ServerError("Only PDF files are supported", errors.New("HTTP 400"))
	ctx := context.Background()

	require.NoError(t, h.w.AddFiles(ctx, pdfFile()))
	require.NoError(t, h.w.SelectTradeByID("plumbing-detector"))

	err := h.w.Next(ctx)
	require.Error(t, err)

	snap := h.w.Snapshot()
	assert.Equal(t, StepUpload, snap.Step)
	assert.Nil(t, snap.Handle)
	assert.Equal(t, "Only PDF files are supported", snap.Error)
	assert.False(t, snap.Uploading)
	assert.False(t, h.w.CanGoTo(StepSelectPage))
}

func TestNext_NoPDFAmongFiles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.w.AddFiles(ctx, domain.UploadedFile{Name: "photo.png", MimeType: "image/png"}))
	require.NoError(t, h.w.SelectTradeByID("plumbing-detector"))
	assert.True(t, h.w.CanAdvance())

	err := h.w.Next(ctx)
	assert.True(t, domain.IsType(err, domain.ErrorTypeGuard))

	snap := h.w.Snapshot()
	assert.Equal(t, StepUpload, snap.Step)
	assert.Equal(t, "Please upload a PDF file", snap.Error)
	assert.Zero(t, h.uploader.count())
}

func TestNext_ProcessesPage(t *testing.T) {
	h := newHarness(t)
	h.toPageStep(t)

	assert.False(t, h.w.CanAdvance(), "no page selected yet")
	require.NoError(t, h.w.SelectPage(1))
	assert.True(t, h.w.CanAdvance())

	require.NoError(t, h.w.Next(context.Background()))

	snap := h.w.Snapshot()
	assert.Equal(t, StepResults, snap.Step)
	require.NotNil(t, snap.Result)
	assert.Equal(t, "f1", snap.Result.FileID)
	assert.Nil(t, snap.Progress)
	assert.False(t, snap.Processing)
	assert.Equal(t, []int{50}, h.rec.progress())

	req := h.processor.lastRequest()
	assert.Equal(t, domain.ProcessRequest{FileID: "f1", PageNumber: 1, ModelType: domain.ModelFireAlarm}, req)
}

func TestNext_StreamErrorStaysOnPageStep(t *testing.T) {
	h := newHarness(t)
	h.processor.errMsg = "bad page"
	h.toPageStep(t)
	require.NoError(t, h.w.SelectPage(2))

	err := h.w.Next(context.Background())
	require.Error(t, err)

	snap := h.w.Snapshot()
	assert.Equal(t, StepSelectPage, snap.Step)
	assert.Equal(t, "bad page", snap.Error)
	assert.False(t, snap.Processing)
	assert.Nil(t, snap.Progress)
	assert.Nil(t, snap.Result)
}

func TestNext_UnknownTradeBlocksProcessing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.w.AddFiles(ctx, pdfFile()))
	require.NoError(t, h.w.SelectTrade(domain.Trade{ID: "roofing-detector", Name: "Roofing"}))
	require.NoError(t, h.w.Next(ctx))
	require.NoError(t, h.w.SelectPage(1))

	err := h.w.Next(ctx)
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeSelection))

	snap := h.w.Snapshot()
	assert.Equal(t, StepSelectPage, snap.Step)
	assert.Equal(t, "Invalid model type selected", snap.Error)
	assert.Empty(t, h.processor.requests)
}

func TestSelectTradeByID_Unknown(t *testing.T) {
	h := newHarness(t)
	err := h.w.SelectTradeByID("nope")
	assert.True(t, domain.IsType(err, domain.ErrorTypeSelection))
	assert.Nil(t, h.w.Snapshot().Trade)
}

func TestSelectPage_Validation(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.w.SelectPage(1), "not on the page step")

	h.toPageStep(t)
	assert.Error(t, h.w.SelectPage(0))
	assert.Error(t, h.w.SelectPage(3))
	assert.NoError(t, h.w.SelectPage(2))
	assert.Equal(t, 2, h.w.Snapshot().SelectedPage)
}

func TestBack_ToUploadClearsSelectionKeepsPages(t *testing.T) {
	h := newHarness(t)
	h.toPageStep(t)
	require.NoError(t, h.w.SelectPage(2))

	require.NoError(t, h.w.Back())

	snap := h.w.Snapshot()
	assert.Equal(t, StepUpload, snap.Step)
	assert.Zero(t, snap.SelectedPage)
	assert.Nil(t, snap.Handle)
	assert.Len(t, snap.Pages, 2)
	assert.Equal(t, 1, h.pages.calls, "pages are not extracted again")
	assert.Len(t, snap.Files, 1)

	assert.Error(t, h.w.Back(), "already on the first step")
}

func TestBackAndGoTo_FromResults(t *testing.T) {
	h := newHarness(t)
	h.toResultsStep(t)
	ctx := context.Background()

	require.NoError(t, h.w.Back())
	snap := h.w.Snapshot()
	assert.Equal(t, StepSelectPage, snap.Step)
	assert.NotNil(t, snap.Handle)
	assert.NotNil(t, snap.Result)

	// Results are only reached again through Next, which processes the
	// page selected now.
	assert.False(t, h.w.CanGoTo(StepResults))
	require.NoError(t, h.w.SelectPage(2))
	err := h.w.GoTo(StepResults)
	assert.True(t, domain.IsType(err, domain.ErrorTypeGuard))
	assert.Equal(t, StepSelectPage, h.w.Snapshot().Step)

	require.NoError(t, h.w.Next(ctx))
	snap = h.w.Snapshot()
	assert.Equal(t, StepResults, snap.Step)
	assert.Equal(t, 2, snap.SelectedPage)
	assert.Equal(t, 2, snap.Result.PageNumber)
	assert.Len(t, h.processor.requests, 2)

	assert.True(t, h.w.CanGoTo(StepSelectPage))
	require.NoError(t, h.w.GoTo(StepSelectPage))
	assert.Len(t, h.processor.requests, 2, "jumping back does not re-run processing")

	require.NoError(t, h.w.GoTo(StepUpload))
	snap = h.w.Snapshot()
	assert.Nil(t, snap.Handle)
	assert.Nil(t, snap.Result)
	assert.False(t, h.w.CanGoTo(StepSelectPage))
	assert.False(t, h.w.CanGoTo(StepResults))
	assert.Error(t, h.w.GoTo(StepResults))
}

func TestCanGoTo_OnlyBackward(t *testing.T) {
	h := newHarness(t)
	assert.False(t, h.w.CanGoTo(StepSelectPage))
	assert.False(t, h.w.CanGoTo(StepResults))

	h.toPageStep(t)
	assert.True(t, h.w.CanGoTo(StepUpload))
	assert.False(t, h.w.CanGoTo(StepResults))
	assert.False(t, h.w.CanGoTo(StepSelectPage), "already there")

	require.NoError(t, h.w.SelectPage(1))
	require.NoError(t, h.w.Next(context.Background()))
	assert.True(t, h.w.CanGoTo(StepUpload))
	assert.True(t, h.w.CanGoTo(StepSelectPage))
	assert.False(t, h.w.CanGoTo(StepResults), "already there")
	assert.False(t, h.w.CanGoTo(Step(0)))
}

func TestReselectPage(t *testing.T) {
	h := newHarness(t)
	h.toResultsStep(t)
	ctx := context.Background()

	require.NoError(t, h.w.ReselectPage(ctx, 2))
	snap := h.w.Snapshot()
	assert.Equal(t, StepResults, snap.Step)
	assert.Equal(t, 2, snap.SelectedPage)
	assert.Equal(t, 2, snap.Result.PageNumber)
	assert.Equal(t, 2, h.processor.lastRequest().PageNumber)
	assert.Equal(t, domain.ModelFireAlarm, h.processor.lastRequest().ModelType)

	h.processor.errMsg = "tile failure"
	require.Error(t, h.w.ReselectPage(ctx, 1))
	snap = h.w.Snapshot()
	assert.Equal(t, StepResults, snap.Step)
	assert.Equal(t, "tile failure", snap.Error)
	assert.Equal(t, 2, snap.Result.PageNumber, "previous result is kept")

	assert.Error(t, h.w.ReselectPage(ctx, 9))
}

func TestReselectPage_RequiresResultsStep(t *testing.T) {
	h := newHarness(t)
	h.toPageStep(t)
	err := h.w.ReselectPage(context.Background(), 1)
	assert.True(t, domain.IsType(err, domain.ErrorTypeGuard))
}

func TestNext_SecondProcessingCallIsRejected(t *testing.T) {
	h := newHarness(t)
	h.processor.block = make(chan struct{})
	h.processor.started = make(chan struct{}, 1)
	h.toPageStep(t)
	require.NoError(t, h.w.SelectPage(1))

	done := make(chan error, 1)
	go func() { done <- h.w.Next(context.Background()) }()
	<-h.processor.started

	assert.True(t, h.w.Snapshot().Processing)
	assert.False(t, h.w.CanAdvance())
	err := h.w.Next(context.Background())
	assert.True(t, domain.IsType(err, domain.ErrorTypeGuard))
	assert.Error(t, h.w.Back())

	close(h.processor.block)
	require.NoError(t, <-done)
	assert.Len(t, h.processor.requests, 1)
}

func TestCloseAndReopenMidUpload(t *testing.T) {
	h := newHarness(t)
	h.uploader.block = make(chan struct{})
	h.uploader.started = make(chan struct{}, 1)
	ctx := context.Background()

	require.NoError(t, h.w.AddFiles(ctx, pdfFile()))
	require.NoError(t, h.w.SelectTradeByID("fire-alarm-detector-v1"))

	done := make(chan error, 1)
	go func() { done <- h.w.Next(ctx) }()
	<-h.uploader.started
	assert.True(t, h.w.Snapshot().Uploading)

	h.w.Close()
	h.w.Open()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSessionReset)
	case <-time.After(5 * time.Second):
		t.Fatal("upload was not cancelled")
	}

	snap := h.w.Snapshot()
	assert.True(t, snap.Open)
	assert.Equal(t, StepUpload, snap.Step)
	assert.Empty(t, snap.Files)
	assert.Nil(t, snap.Handle)
	assert.Nil(t, snap.Trade)
	assert.False(t, snap.Uploading)

	h.uploader.mu.Lock()
	assert.ErrorIs(t, h.uploader.ctxErr, context.Canceled)
	h.uploader.mu.Unlock()
}

func TestStaleProcessingOutcomeIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.processor.block = make(chan struct{})
	h.processor.started = make(chan struct{}, 1)
	h.toPageStep(t)
	require.NoError(t, h.w.SelectPage(1))

	done := make(chan error, 1)
	go func() { done <- h.w.Next(context.Background()) }()
	<-h.processor.started

	h.w.Close()
	// The fake ignores cancellation and still reports progress and a result.
	close(h.processor.block)
	assert.ErrorIs(t, <-done, ErrSessionReset)

	snap := h.w.Snapshot()
	assert.False(t, snap.Open)
	assert.Equal(t, StepUpload, snap.Step)
	assert.Nil(t, snap.Result)
	assert.Nil(t, snap.Progress)
	assert.Empty(t, h.rec.progress())
}

func TestClosedWizardRejectsActions(t *testing.T) {
	h := newHarness(t)
	h.w.Close()

	assert.Error(t, h.w.AddFiles(context.Background(), pdfFile()))
	assert.Error(t, h.w.SelectTradeByID("plumbing-detector"))
	assert.Error(t, h.w.Next(context.Background()))
	assert.False(t, h.w.CanAdvance())
}

func TestAddFiles_PageSet(t *testing.T) {
	ctx := context.Background()

	t.Run("non-PDF files clear pages", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.w.AddFiles(ctx, pdfFile()))
		require.Len(t, h.w.Snapshot().Pages, 2)

		require.NoError(t, h.w.AddFiles(ctx, domain.UploadedFile{Name: "legend.png", MimeType: "image/png"}))
		snap := h.w.Snapshot()
		assert.Empty(t, snap.Pages)
		assert.Len(t, snap.Files, 2)
	})

	t.Run("extraction failure is reported", func(t *testing.T) {
		h := newHarness(t)
		h.pages.err = domain.ConversionError("Failed to open PDF", errors.New("corrupt xref"))

		require.Error(t, h.w.AddFiles(ctx, pdfFile()))
		snap := h.w.Snapshot()
		assert.Empty(t, snap.Pages)
		assert.Len(t, snap.Files, 1)
		assert.Equal(t, "Error loading PDF: Failed to open PDF", snap.Error)
		assert.False(t, snap.LoadingPages)

		// The advance guard only needs a PDF among the files.
		require.NoError(t, h.w.SelectTradeByID("plumbing-detector"))
		assert.True(t, h.w.CanAdvance())
	})
}

func TestObserverSeesLoadingFlags(t *testing.T) {
	h := newHarness(t)
	h.toResultsStep(t)

	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	var sawUploading, sawProcessing, sawLoading bool
	for _, s := range h.rec.snaps {
		sawUploading = sawUploading || s.Uploading
		sawProcessing = sawProcessing || s.Processing
		sawLoading = sawLoading || s.LoadingPages
	}
	assert.True(t, sawUploading)
	assert.True(t, sawProcessing)
	assert.True(t, sawLoading)
}

func TestObserverMayReadStateWhileClosing(t *testing.T) {
	h := newHarness(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var canAdvance []bool
	var last Snapshot

	var w *Wizard
	w = New(h.uploader, h.processor, h.pages, WithObserver(func(s Snapshot) {
		if s.Progress != nil {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
		canAdvance = append(canAdvance, w.CanAdvance())
		last = s
	}))
	h.w = w
	w.Open()
	h.toPageStep(t)
	require.NoError(t, w.SelectPage(1))

	done := make(chan error, 1)
	go func() { done <- w.Next(context.Background()) }()
	<-entered

	closed := make(chan struct{})
	go func() {
		w.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked on a running observer")
	}
	close(release)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSessionReset)
	case <-time.After(5 * time.Second):
		t.Fatal("observer reading state during Close never returned")
	}

	// Next's goroutine delivered every snapshot, the close last.
	assert.False(t, last.Open)
	assert.Equal(t, StepUpload, last.Step)
	assert.False(t, canAdvance[len(canAdvance)-1])
}

func TestSnapshotResultIsACopy(t *testing.T) {
	h := newHarness(t)
	tile := 3
	h.processor.result = &domain.ProcessingResult{
		FileID: "f1",
		Detections: domain.DetectionSummary{
			TotalDetections:   1,
			DetectionsByClass: map[string]int{"smoke_detector": 1},
			AllDetections:     []domain.Detection{{ClassName: "smoke_detector", BBox: []float64{1, 2, 3, 4}, TileIndex: &tile}},
		},
	}
	h.toResultsStep(t)

	snap := h.w.Snapshot()
	snap.Result.Detections.DetectionsByClass["smoke_detector"] = 99
	snap.Result.Detections.AllDetections[0].BBox[0] = 99
	*snap.Result.Detections.AllDetections[0].TileIndex = 99

	fresh := h.w.Snapshot().Result.Detections
	assert.Equal(t, 1, fresh.DetectionsByClass["smoke_detector"])
	assert.Equal(t, 1.0, fresh.AllDetections[0].BBox[0])
	assert.Equal(t, 3, *fresh.AllDetections[0].TileIndex)
}
