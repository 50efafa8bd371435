package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/spherical/takeoff/cmd/takeoff/ui"
	"github.com/spherical/takeoff/internal/domain"
	"github.com/spherical/takeoff/internal/wizard"
)

var (
	wizardPDF   string
	wizardTrade string
	wizardPage  int
	wizardRaw   bool
)

var wizardCmd = &cobra.Command{
	Use:   "wizard",
	Short: "Upload a plan, pick a page and review the detections step by step",
	Long: `Walk through the three takeoff steps: upload a PDF and choose a trade,
select the page to analyse, then review the detected symbols. Any step can be
revisited from the results. When --pdf, --trade and --page are all given the
wizard runs once without prompting and prints the result.`,
	Args: cobra.NoArgs,
	RunE: runWizard,
}

func init() {
	wizardCmd.Flags().StringVar(&wizardPDF, "pdf", "", "PDF to start with")
	wizardCmd.Flags().StringVarP(&wizardTrade, "trade", "t", "", "trade id or part of a trade name")
	wizardCmd.Flags().IntVarP(&wizardPage, "page", "p", 0, "page to process")
	wizardCmd.Flags().BoolVar(&wizardRaw, "raw", false, "include every detection box in the result")
	rootCmd.AddCommand(wizardCmd)
}

var stepLabels = []string{"Upload", "Select page", "Results"}

var errQuit = errors.New("quit")

func runWizard(cmd *cobra.Command, args []string) error {
	c := app.console
	client := app.apiClient()
	source, closeCache := app.pageSource(nil)
	defer closeCache()

	view := &progressView{}
	w := wizard.New(client, client, source,
		wizard.WithObserver(view.observe),
		wizard.WithLogger(app.logger),
		wizard.WithIncludeRawDetections(wizardRaw || app.cfg.API.IncludeRawDetections),
	)
	w.Open()
	defer w.Close()

	run := &wizardRun{
		w:     w,
		c:     c,
		view:  view,
		pdf:   wizardPDF,
		trade: wizardTrade,
		page:  wizardPage,
		once:  wizardPDF != "" && wizardTrade != "" && wizardPage > 0,
	}
	err := run.loop(cmd.Context())
	if errors.Is(err, errQuit) || errors.Is(err, ui.ErrNoInput) {
		return nil
	}
	return err
}

// progressView forwards streamed progress from wizard snapshots to the bar
// of the processing call that is currently running.
type progressView struct {
	mu  sync.Mutex
	bar *ui.ProcessingBar
}

func (v *progressView) observe(s wizard.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.bar != nil && s.Processing && s.Progress != nil {
		v.bar.Update(s.Progress.Percent, s.Progress.Message)
	}
}

func (v *progressView) set(bar *ui.ProcessingBar) {
	v.mu.Lock()
	v.bar = bar
	v.mu.Unlock()
}

type wizardRun struct {
	w    *wizard.Wizard
	c    *ui.Console
	view *progressView

	// Flag values, consumed on first use.
	pdf   string
	trade string
	page  int
	once  bool
}

func (r *wizardRun) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		snap := r.w.Snapshot()
		r.c.Newline()
		r.c.Steps(stepLabels, int(snap.Step), func(step int) bool {
			return r.w.CanGoTo(wizard.Step(step))
		})

		var err error
		switch snap.Step {
		case wizard.StepUpload:
			err = r.uploadStep(ctx, snap)
		case wizard.StepSelectPage:
			err = r.pageStep(ctx, snap)
		case wizard.StepResults:
			err = r.resultsStep(ctx, snap)
		}
		if err != nil {
			return err
		}
	}
}

func (r *wizardRun) uploadStep(ctx context.Context, snap wizard.Snapshot) error {
	if _, ok := domain.FirstPDF(snap.Files); !ok {
		return r.addFile(ctx)
	}
	if snap.Trade == nil {
		return r.chooseTrade()
	}

	pdf, _ := domain.FirstPDF(snap.Files)
	if !r.once {
		choice, err := r.c.PromptChoice(fmt.Sprintf("Upload %s for %s?", pdf.Name, snap.Trade.Name), []string{
			"Upload",
			"Choose a different file",
			"Change trade",
			"Quit",
		})
		if err != nil {
			return err
		}
		switch choice {
		case 1:
			r.w.Open()
			return r.w.SelectTrade(*snap.Trade)
		case 2:
			return r.chooseTrade()
		case 3:
			return errQuit
		}
	}

	spin := r.c.NewSpinner(fmt.Sprintf("Uploading %s...", pdf.Name))
	spin.Start()
	err := r.w.Next(ctx)
	spin.Stop()
	if err != nil {
		return r.report(err)
	}
	r.c.Success("Uploaded %s", pdf.Name)
	if h := r.w.Snapshot().Handle; h != nil {
		r.c.Debug("file id %s, %d pages on the server", h.FileID, h.TotalPages)
	}
	return nil
}

func (r *wizardRun) addFile(ctx context.Context) error {
	path := r.pdf
	r.pdf = ""
	if path == "" {
		var err error
		if path, err = r.c.PromptFilePath("PDF file"); err != nil {
			return err
		}
	}
	file, err := domain.NewUploadedFile(path)
	if err != nil {
		r.c.Error("%s", domain.UserMessage(err))
		return r.stopIfOnce(err)
	}

	spin := r.c.NewSpinner("Loading pages...")
	spin.Start()
	err = r.w.AddFiles(ctx, file)
	spin.Stop()
	if errors.Is(err, wizard.ErrSessionReset) {
		return err
	}

	snap := r.w.Snapshot()
	switch {
	case snap.Error != "":
		r.c.Warning("%s", snap.Error)
	case !file.IsPDF():
		r.c.Warning("%s is not a PDF", file.Name)
		return r.stopIfOnce(domain.GuardError("Please upload a PDF file"))
	default:
		r.c.Info("%s: %d pages (%s)", file.Name, len(snap.Pages), ui.FormatBytes(file.Size))
	}
	return nil
}

func (r *wizardRun) chooseTrade() error {
	query := r.trade
	r.trade = ""
	if query != "" {
		if t, ok := wizard.TradeByID(query); ok {
			return r.w.SelectTrade(t)
		}
		if matches := wizard.FilterTrades(query); len(matches) == 1 {
			return r.w.SelectTrade(matches[0])
		}
		r.c.Warning("No single trade matches %q", query)
		if err := r.stopIfOnce(domain.SelectionError("Invalid model type selected")); err != nil {
			return err
		}
	}

	names := make([]string, len(wizard.TradeOptions))
	for i, t := range wizard.TradeOptions {
		names[i] = t.Name
	}
	idx, err := r.c.PromptChoice("Select a trade", names)
	if err != nil {
		return err
	}
	return r.w.SelectTrade(wizard.TradeOptions[idx])
}

func (r *wizardRun) pageStep(ctx context.Context, snap wizard.Snapshot) error {
	total := len(snap.Pages)
	if total == 0 && snap.Handle != nil {
		total = snap.Handle.TotalPages
	}

	page := r.page
	r.page = 0
	if page == 0 {
		choice, err := r.c.PromptChoice(fmt.Sprintf("%s has %d pages", snap.Handle.Filename, total), []string{
			"Process a page",
			"Back to upload",
			"Quit",
		})
		if err != nil {
			return err
		}
		switch choice {
		case 1:
			return r.report(r.w.Back())
		case 2:
			return errQuit
		}
		if page, err = r.promptPage(snap.SelectedPage, total); err != nil {
			return err
		}
	}

	if err := r.w.SelectPage(page); err != nil {
		return r.report(err)
	}
	return r.process(func() error { return r.w.Next(ctx) }, page)
}

func (r *wizardRun) resultsStep(ctx context.Context, snap wizard.Snapshot) error {
	r.c.Result(snap.Result)
	if r.once {
		return errQuit
	}

	choice, err := r.c.PromptChoice("What next?", []string{
		"Process another page",
		"Back to page selection",
		"Back to upload",
		"Quit",
	})
	if err != nil {
		return err
	}
	switch choice {
	case 0:
		total := len(snap.Pages)
		if total == 0 && snap.Handle != nil {
			total = snap.Handle.TotalPages
		}
		page, err := r.promptPage(snap.SelectedPage, total)
		if err != nil {
			return err
		}
		return r.process(func() error { return r.w.ReselectPage(ctx, page) }, page)
	case 1:
		return r.report(r.w.Back())
	case 2:
		return r.report(r.w.GoTo(wizard.StepUpload))
	}
	return errQuit
}

func (r *wizardRun) promptPage(current, total int) (int, error) {
	return r.c.PromptInt("Page", max(current, 1), 1, max(total, 1))
}

// process runs a processing call with a progress bar fed by the observer.
func (r *wizardRun) process(call func() error, page int) error {
	bar := r.c.NewProcessingBar(fmt.Sprintf("Page %d", page))
	r.view.set(bar)
	err := call()
	r.view.set(nil)
	if err != nil {
		bar.Abandon()
		return r.report(err)
	}
	bar.Finish()
	return nil
}

// report shows a failed wizard call. The session's own message wins over
// the error text. Only a reset session or a one-shot run stops the loop.
func (r *wizardRun) report(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, wizard.ErrSessionReset) {
		return err
	}
	msg := r.w.Snapshot().Error
	if msg == "" {
		msg = domain.UserMessage(err)
	}
	r.c.Error("%s", msg)
	return r.stopIfOnce(err)
}

func (r *wizardRun) stopIfOnce(err error) error {
	if r.once {
		return err
	}
	return nil
}
