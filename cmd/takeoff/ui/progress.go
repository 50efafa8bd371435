package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// ProcessingBar shows the percent reported by a processing stream.
type ProcessingBar struct {
	bar *progressbar.ProgressBar
}

// NewProcessingBar creates a 0-100 bar on stderr.
func (c *Console) NewProcessingBar(description string) *ProcessingBar {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(c.errOut),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(c.errOut)
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &ProcessingBar{bar: bar}
}

// Update moves the bar to percent and shows message beside it.
func (p *ProcessingBar) Update(percent int, message string) {
	if message != "" {
		p.bar.Describe(message)
	}
	_ = p.bar.Set(percent)
}

// Finish completes the bar.
func (p *ProcessingBar) Finish() {
	_ = p.bar.Finish()
}

// Abandon stops rendering without completing the bar.
func (p *ProcessingBar) Abandon() {
	_ = p.bar.Exit()
}

// Spinner shows indeterminate progress.
type Spinner struct {
	spinner *spinner.Spinner
}

// NewSpinner creates a stopped spinner on stderr.
func (c *Console) NewSpinner(message string) *Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(c.errOut))
	s.Suffix = " " + message
	return &Spinner{spinner: s}
}

// Start starts the animation.
func (s *Spinner) Start() {
	s.spinner.Start()
}

// Stop stops the animation and clears the line.
func (s *Spinner) Stop() {
	s.spinner.Stop()
}

// PageProgress renders page rasterization as a counted bar. Update may be
// called from several goroutines.
type PageProgress struct {
	name string
	p    *mpb.Progress

	mu   sync.Mutex
	bar  *mpb.Bar
	done int
}

// NewPageProgress creates a page bar container on stderr. The bar itself
// appears on the first Update, once the page count is known.
func (c *Console) NewPageProgress(name string) *PageProgress {
	return &PageProgress{
		name: name,
		p:    mpb.New(mpb.WithOutput(c.errOut), mpb.WithWidth(64)),
	}
}

// Update records done of total pages.
func (pp *PageProgress) Update(done, total int) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if pp.bar == nil {
		pp.bar = pp.p.AddBar(int64(total),
			mpb.PrependDecorators(
				decor.Name(pp.name, decor.WC{W: len(pp.name) + 1, C: decor.DindentRight}),
				decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.Percentage(decor.WC{W: 5}),
				decor.OnComplete(decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 8}), " done"),
			),
		)
	}
	if done > pp.done {
		pp.done = done
		pp.bar.SetCurrent(int64(done))
	}
}

// Wait flushes the bar. An incomplete bar is aborted so Wait never blocks.
func (pp *PageProgress) Wait() {
	pp.mu.Lock()
	if pp.bar != nil && !pp.bar.Completed() {
		pp.bar.Abort(false)
	}
	pp.mu.Unlock()
	pp.p.Wait()
}
