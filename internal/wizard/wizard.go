// Package wizard drives the three-step takeoff flow: upload a PDF and pick
// a trade, select a page, then process it and show the results.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spherical/takeoff/internal/domain"
	"github.com/spherical/takeoff/internal/observability"
)

// ErrSessionReset is returned by an operation whose session was closed or
// reopened while it waited on the network. Its outcome was discarded.
var ErrSessionReset = errors.New("wizard session was reset")

// Observer receives a snapshot after every session change, in change order.
// It runs with no wizard lock held and may call any Wizard method; snapshots
// for changes it makes are delivered after it returns.
type Observer func(Snapshot)

// Option configures a Wizard.
type Option func(*Wizard)

// WithObserver registers the session observer.
func WithObserver(fn Observer) Option {
	return func(w *Wizard) {
		w.observer = fn
	}
}

// WithLogger sets the wizard logger.
func WithLogger(logger *observability.Logger) Option {
	return func(w *Wizard) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithIncludeRawDetections asks the server for every detection box.
func WithIncludeRawDetections(include bool) Option {
	return func(w *Wizard) {
		w.includeRaw = include
	}
}

// Wizard owns one session at a time. All methods are safe for concurrent
// use; network-bound methods block until their call settles.
type Wizard struct {
	uploader   domain.Uploader
	processor  domain.StreamProcessor
	pageSource domain.PageSource
	logger     *observability.Logger
	observer   Observer
	includeRaw bool

	mu   sync.Mutex
	open bool
	gen  uint64
	s    session

	// Snapshots waiting for the observer, drained by one goroutine at a time.
	pending    []Snapshot
	delivering bool

	calls     map[uint64]context.CancelFunc
	nextCall  uint64
	pagesCall uint64
}

// New creates a closed wizard. Call Open to start a session.
func New(uploader domain.Uploader, processor domain.StreamProcessor, pages domain.PageSource, opts ...Option) *Wizard {
	w := &Wizard{
		uploader:   uploader,
		processor:  processor,
		pageSource: pages,
		logger:     observability.Nop(),
		s:          newSession(),
		calls:      make(map[uint64]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.WithComponent("wizard")
	return w
}

// Open starts a fresh session, cancelling anything left from the previous one.
func (w *Wizard) Open() {
	w.mu.Lock()
	w.reset(true)
	w.logger.Debug().Uint64("generation", w.gen).Msg("session opened")
	w.unlockAndNotify()
}

// Close tears the session down and cancels in-flight calls.
func (w *Wizard) Close() {
	w.mu.Lock()
	w.reset(false)
	w.logger.Debug().Uint64("generation", w.gen).Msg("session closed")
	w.unlockAndNotify()
}

func (w *Wizard) reset(open bool) {
	w.cancelAll()
	w.gen++
	w.open = open
	w.s = newSession()
}

// Snapshot returns a copy of the current session.
func (w *Wizard) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.s.snapshot(w.open)
}

// AddFiles accumulates files on the upload step. When the new files contain
// a PDF its pages replace the held page set; otherwise the page set is
// cleared. A failed extraction is reported in the session but the files
// stay added.
func (w *Wizard) AddFiles(ctx context.Context, files ...domain.UploadedFile) error {
	w.mu.Lock()
	if err := w.requireStep(StepUpload, "Files can only be added on the upload step"); err != nil {
		w.mu.Unlock()
		return err
	}
	if len(files) == 0 {
		w.mu.Unlock()
		return nil
	}

	w.s.err = ""
	w.s.files = append(w.s.files, files...)
	w.untrack(w.pagesCall)

	pdf, ok := domain.FirstPDF(files)
	if !ok {
		w.pagesCall = 0
		w.s.pages = nil
		w.s.loadingPages = false
		w.unlockAndNotify()
		return nil
	}

	w.s.loadingPages = true
	gen := w.gen
	callCtx, id := w.track(ctx)
	w.pagesCall = id
	w.unlockAndNotify()

	pages, err := w.pageSource.Pages(callCtx, pdf)

	w.mu.Lock()
	w.untrack(id)
	if gen != w.gen {
		w.mu.Unlock()
		w.logger.Debug().Str("file", pdf.Name).Msg("discarding pages for a stale session")
		return ErrSessionReset
	}
	if id != w.pagesCall {
		// Superseded by a later AddFiles.
		w.mu.Unlock()
		return nil
	}
	w.pagesCall = 0
	w.s.loadingPages = false
	if err != nil {
		w.s.pages = nil
		w.s.err = "Error loading PDF: " + domain.UserMessage(err)
		w.logger.Warn().Err(err).Str("file", pdf.Name).Msg("page extraction failed")
		w.unlockAndNotify()
		return err
	}
	w.s.pages = pages
	w.logger.Info().Str("file", pdf.Name).Int("pages", len(pages)).Msg("pages extracted")
	w.unlockAndNotify()
	return nil
}

// SelectTrade sets the active trade. Only allowed on the upload step.
func (w *Wizard) SelectTrade(t domain.Trade) error {
	w.mu.Lock()
	if err := w.requireStep(StepUpload, "Trade can only be changed on the upload step"); err != nil {
		w.mu.Unlock()
		return err
	}
	w.s.err = ""
	w.s.trade = &t
	w.unlockAndNotify()
	return nil
}

// SelectTradeByID selects a trade from TradeOptions.
func (w *Wizard) SelectTradeByID(id string) error {
	t, ok := TradeByID(id)
	if !ok {
		return domain.SelectionError(fmt.Sprintf("Unknown trade: %s", id))
	}
	return w.SelectTrade(t)
}

// SelectPage selects the page to process on the page step.
func (w *Wizard) SelectPage(n int) error {
	w.mu.Lock()
	if err := w.requireStep(StepSelectPage, "Pages are selected on the page step"); err != nil {
		w.mu.Unlock()
		return err
	}
	if err := w.validPage(n); err != nil {
		w.mu.Unlock()
		return err
	}
	w.s.err = ""
	w.s.selectedPage = n
	w.unlockAndNotify()
	return nil
}

// CanAdvance reports whether Next would start a transition.
func (w *Wizard) CanAdvance() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.open {
		return false
	}
	switch w.s.step {
	case StepUpload:
		return w.s.trade != nil && len(w.s.files) > 0 && !w.s.uploading
	case StepSelectPage:
		return w.s.selectedPage != 0 && !w.s.processing && w.s.handle != nil
	}
	return false
}

// Next advances one step. From the upload step it uploads the first PDF;
// from the page step it processes the selected page. An unmet guard
// returns a guard error and leaves the session untouched.
func (w *Wizard) Next(ctx context.Context) error {
	w.mu.Lock()
	if !w.open {
		w.mu.Unlock()
		return domain.GuardError("Wizard is closed")
	}
	step := w.s.step
	w.mu.Unlock()

	switch step {
	case StepUpload:
		return w.advanceUpload(ctx)
	case StepSelectPage:
		return w.advanceProcess(ctx)
	}
	return domain.GuardError("Already on the last step")
}

func (w *Wizard) advanceUpload(ctx context.Context) error {
	w.mu.Lock()
	if err := w.uploadGuard(); err != nil {
		w.mu.Unlock()
		return err
	}

	w.s.err = ""
	pdf, ok := domain.FirstPDF(w.s.files)
	if !ok {
		w.s.err = "Please upload a PDF file"
		w.unlockAndNotify()
		return domain.GuardError("Please upload a PDF file")
	}

	w.s.uploading = true
	gen := w.gen
	callCtx, id := w.track(ctx)
	w.unlockAndNotify()

	resp, err := w.uploader.Upload(callCtx, pdf)
	if err == nil && resp == nil {
		err = domain.ProtocolError("Empty upload response", nil)
	}

	w.mu.Lock()
	w.untrack(id)
	if gen != w.gen {
		w.mu.Unlock()
		w.logger.Debug().Str("file", pdf.Name).Msg("discarding upload outcome for a stale session")
		return ErrSessionReset
	}
	w.s.uploading = false
	if err != nil {
		w.s.err = messageOr(err, "Failed to upload file")
		w.logger.Warn().Err(err).Str("file", pdf.Name).Msg("upload failed")
		w.unlockAndNotify()
		return err
	}

	handle := resp.Handle()
	w.s.handle = &handle
	w.s.step = StepSelectPage
	w.logger.Info().Str("file_id", handle.FileID).Int("pages", handle.TotalPages).Msg("advanced to page selection")
	w.unlockAndNotify()
	return nil
}

func (w *Wizard) uploadGuard() error {
	switch {
	case !w.open:
		return domain.GuardError("Wizard is closed")
	case w.s.step != StepUpload:
		return domain.GuardError("Not on the upload step")
	case w.s.trade == nil:
		return domain.GuardError("Please select a trade")
	case len(w.s.files) == 0:
		return domain.GuardError("Please add a PDF file")
	case w.s.uploading:
		return domain.GuardError("An upload is already in progress")
	}
	return nil
}

func (w *Wizard) advanceProcess(ctx context.Context) error {
	w.mu.Lock()
	if err := w.processGuard(StepSelectPage); err != nil {
		w.mu.Unlock()
		return err
	}
	if w.s.selectedPage == 0 {
		w.mu.Unlock()
		return domain.GuardError("Please select a page")
	}
	return w.runProcessing(ctx, w.s.selectedPage, true)
}

// ReselectPage processes another page while on the results step. The step
// does not change; a failure keeps the previous result.
func (w *Wizard) ReselectPage(ctx context.Context, n int) error {
	w.mu.Lock()
	if err := w.processGuard(StepResults); err != nil {
		w.mu.Unlock()
		return err
	}
	if err := w.validPage(n); err != nil {
		w.mu.Unlock()
		return err
	}
	w.s.selectedPage = n
	return w.runProcessing(ctx, n, false)
}

func (w *Wizard) processGuard(step Step) error {
	switch {
	case !w.open:
		return domain.GuardError("Wizard is closed")
	case w.s.step != step:
		return domain.GuardError(fmt.Sprintf("Not on the %s step", step))
	case w.s.processing:
		return domain.GuardError("Processing is already in progress")
	case w.s.handle == nil:
		return domain.GuardError("No uploaded file")
	}
	return nil
}

// runProcessing is entered with w.mu held and returns with it released.
func (w *Wizard) runProcessing(ctx context.Context, page int, advance bool) error {
	w.s.err = ""

	var tradeID string
	if w.s.trade != nil {
		tradeID = w.s.trade.ID
	}
	modelType, err := ModelTypeFor(tradeID)
	if err != nil {
		w.s.err = domain.UserMessage(err)
		w.unlockAndNotify()
		return err
	}

	req := domain.ProcessRequest{
		FileID:               w.s.handle.FileID,
		PageNumber:           page,
		ModelType:            modelType,
		IncludeRawDetections: w.includeRaw,
	}

	w.s.processing = true
	w.s.progress = nil
	gen := w.gen
	callCtx, id := w.track(ctx)
	w.unlockAndNotify()

	result, err := w.processor.ProcessPageStream(callCtx, req,
		func(p domain.ProgressEvent) { w.onProgress(gen, p) },
		func(msg string) { w.onStreamError(gen, msg) },
	)
	if err == nil && result == nil {
		err = domain.ProtocolError("Empty processing result", nil)
	}

	w.mu.Lock()
	w.untrack(id)
	if gen != w.gen {
		w.mu.Unlock()
		w.logger.Debug().Int("page", page).Msg("discarding processing outcome for a stale session")
		return ErrSessionReset
	}
	w.s.processing = false
	w.s.progress = nil
	if err != nil {
		w.s.err = messageOr(err, "Failed to process page")
		w.logger.Warn().Err(err).Int("page", page).Msg("processing failed")
		w.unlockAndNotify()
		return err
	}

	w.s.result = result
	if advance {
		w.s.step = StepResults
	}
	w.logger.Info().Int("page", page).Int("detections", result.Detections.TotalDetections).Msg("page processed")
	w.unlockAndNotify()
	return nil
}

func (w *Wizard) onProgress(gen uint64, p domain.ProgressEvent) {
	w.mu.Lock()
	if gen != w.gen || !w.s.processing {
		w.mu.Unlock()
		w.logger.Debug().Int("percent", p.Percent).Msg("dropping stale progress")
		return
	}
	w.s.progress = &p
	w.unlockAndNotify()
}

func (w *Wizard) onStreamError(gen uint64, msg string) {
	w.mu.Lock()
	if gen != w.gen || !w.s.processing {
		w.mu.Unlock()
		w.logger.Debug().Str("error", msg).Msg("dropping stale stream error")
		return
	}
	w.s.err = msg
	w.unlockAndNotify()
}

// Back moves one step back. Returning to the upload step clears the page
// selection and the remote file; the extracted pages are kept.
func (w *Wizard) Back() error {
	w.mu.Lock()
	switch {
	case !w.open:
		w.mu.Unlock()
		return domain.GuardError("Wizard is closed")
	case w.s.step == StepUpload:
		w.mu.Unlock()
		return domain.GuardError("Already on the first step")
	case w.s.busy():
		w.mu.Unlock()
		return domain.GuardError("Cannot go back while a request is in progress")
	}
	w.s.err = ""
	w.moveTo(w.s.step - 1)
	w.unlockAndNotify()
	return nil
}

// CanGoTo reports whether GoTo(step) is allowed: step is earlier than the
// current one and no request is in flight.
func (w *Wizard) CanGoTo(step Step) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canGoTo(step)
}

// GoTo jumps back to an earlier step without re-running its work. Moving
// forward always goes through Next.
func (w *Wizard) GoTo(step Step) error {
	w.mu.Lock()
	if !w.canGoTo(step) {
		w.mu.Unlock()
		return domain.GuardError(fmt.Sprintf("Step %d is not available", step))
	}
	w.s.err = ""
	w.moveTo(step)
	w.unlockAndNotify()
	return nil
}

func (w *Wizard) canGoTo(step Step) bool {
	return w.open && !w.s.busy() && step >= StepUpload && step < w.s.step
}

func (w *Wizard) moveTo(step Step) {
	w.s.step = step
	if step == StepUpload {
		w.s.selectedPage = 0
		w.s.handle = nil
		w.s.result = nil
		w.s.progress = nil
	}
}

func (w *Wizard) requireStep(step Step, msg string) error {
	if !w.open {
		return domain.GuardError("Wizard is closed")
	}
	if w.s.step != step {
		return domain.GuardError(msg)
	}
	return nil
}

func (w *Wizard) validPage(n int) error {
	if n < 1 {
		return domain.GuardError("Invalid page number")
	}
	if count := w.s.pageCount(); count > 0 && n > count {
		return domain.GuardError(fmt.Sprintf("Invalid page number: document has %d pages", count))
	}
	return nil
}

// track derives a cancellable context for a network call. Called with w.mu held.
func (w *Wizard) track(parent context.Context) (context.Context, uint64) {
	ctx, cancel := context.WithCancel(parent)
	w.nextCall++
	w.calls[w.nextCall] = cancel
	return ctx, w.nextCall
}

func (w *Wizard) untrack(id uint64) {
	if cancel, ok := w.calls[id]; ok {
		cancel()
		delete(w.calls, id)
	}
}

func (w *Wizard) cancelAll() {
	for id, cancel := range w.calls {
		cancel()
		delete(w.calls, id)
	}
	w.pagesCall = 0
}

// unlockAndNotify queues a snapshot of the session and releases w.mu.
// Snapshots are queued under w.mu, so the queue is in change order. If no
// other goroutine is delivering, this one drains the queue, calling the
// observer with w.mu released.
func (w *Wizard) unlockAndNotify() {
	if w.observer == nil {
		w.mu.Unlock()
		return
	}
	w.pending = append(w.pending, w.s.snapshot(w.open))
	if w.delivering {
		w.mu.Unlock()
		return
	}
	w.delivering = true
	for len(w.pending) > 0 {
		batch := w.pending
		w.pending = nil
		w.mu.Unlock()
		for _, snap := range batch {
			w.observer(snap)
		}
		w.mu.Lock()
	}
	w.delivering = false
	w.mu.Unlock()
}

func messageOr(err error, fallback string) string {
	if msg := domain.UserMessage(err); msg != "" {
		return msg
	}
	return fallback
}
