package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spherical/takeoff/internal/domain"
)

var (
	processFileID   string
	processPage     int
	processTrade    string
	processNoStream bool
	processRaw      bool
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run a trade model over one page of an uploaded file",
	Long: `Process one page of a previously uploaded file. Progress is streamed from
the service unless --no-stream is given. --trade accepts a trade id such as
plumbing-detector or a model name such as plumbing.`,
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVar(&processFileID, "file-id", "", "server file id (required)")
	processCmd.Flags().IntVarP(&processPage, "page", "p", 1, "1-based page number")
	processCmd.Flags().StringVarP(&processTrade, "trade", "t", "", "trade id or model name (required)")
	processCmd.Flags().BoolVar(&processNoStream, "no-stream", false, "use the blocking endpoint without progress")
	processCmd.Flags().BoolVar(&processRaw, "raw", false, "include every detection box in the result")
	_ = processCmd.MarkFlagRequired("file-id")
	_ = processCmd.MarkFlagRequired("trade")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	c := app.console
	model, err := tradeModel(processTrade)
	if err != nil {
		return err
	}
	if processPage < 1 {
		return domain.ValidationError(fmt.Sprintf("invalid page number %d", processPage), nil)
	}

	req := domain.ProcessRequest{
		FileID:               processFileID,
		PageNumber:           processPage,
		ModelType:            model,
		IncludeRawDetections: processRaw || app.cfg.API.IncludeRawDetections,
	}
	client := app.apiClient()
	ctx := cmd.Context()

	var result *domain.ProcessingResult
	if processNoStream {
		spin := c.NewSpinner(fmt.Sprintf("Processing page %d...", req.PageNumber))
		spin.Start()
		result, err = client.ProcessPage(ctx, req)
		spin.Stop()
	} else {
		bar := c.NewProcessingBar(fmt.Sprintf("Page %d", req.PageNumber))
		result, err = client.ProcessPageStream(ctx, req,
			func(p domain.ProgressEvent) { bar.Update(p.Percent, p.Message) },
			nil,
		)
		if err != nil {
			bar.Abandon()
		} else {
			bar.Finish()
		}
	}
	if err != nil {
		return err
	}

	c.Result(result)
	return nil
}
