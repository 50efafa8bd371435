package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spherical/takeoff/cmd/takeoff/ui"
	"github.com/spherical/takeoff/internal/domain"
	"github.com/spherical/takeoff/internal/pdf"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file.pdf>",
	Short: "Upload a PDF and print its file id",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	c := app.console
	path := args[0]
	if err := pdf.ValidatePDFPath(path, app.logger); err != nil {
		return err
	}
	file, err := domain.NewUploadedFile(path)
	if err != nil {
		return err
	}

	spin := c.NewSpinner(fmt.Sprintf("Uploading %s...", file.Name))
	spin.Start()
	resp, err := app.apiClient().Upload(cmd.Context(), file)
	spin.Stop()
	if err != nil {
		return err
	}

	c.Success("Uploaded %s", resp.Filename)
	c.KeyValue("File ID", resp.FileID)
	c.KeyValue("Pages", fmt.Sprintf("%d", resp.TotalPages))
	c.KeyValue("Size", ui.FormatBytes(resp.FileSizeBytes))
	return nil
}
