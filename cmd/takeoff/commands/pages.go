package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/spherical/takeoff/cmd/takeoff/ui"
	"github.com/spherical/takeoff/internal/domain"
	"github.com/spherical/takeoff/internal/pdf"
)

var pagesOut string

var pagesCmd = &cobra.Command{
	Use:   "pages <file.pdf>",
	Short: "Rasterize a PDF locally and list its pages",
	Long: `Render every page of a PDF the way the wizard does for page selection.
With --out, each page and its thumbnail are written as PNG files.`,
	Args: cobra.ExactArgs(1),
	RunE: runPages,
}

func init() {
	pagesCmd.Flags().StringVarP(&pagesOut, "out", "o", "", "directory to write page PNGs into")
	rootCmd.AddCommand(pagesCmd)
}

func runPages(cmd *cobra.Command, args []string) error {
	c := app.console
	path := args[0]
	if err := pdf.ValidatePDFPath(path, app.logger); err != nil {
		return err
	}
	file, err := domain.NewUploadedFile(path)
	if err != nil {
		return err
	}

	progress := c.NewPageProgress("Rendering")
	source, closeCache := app.pageSource(progress.Update)
	defer closeCache()

	pages, err := source.Pages(cmd.Context(), file)
	progress.Wait()
	if err != nil {
		return err
	}

	rows := make([][]string, len(pages))
	for i, p := range pages {
		rows[i] = []string{
			fmt.Sprintf("%d", p.PageNumber),
			fmt.Sprintf("%dx%d", p.Width, p.Height),
			ui.FormatBytes(int64(len(p.Image))),
		}
	}
	c.Table([]string{"PAGE", "SIZE", "PNG"}, rows)

	if pagesOut == "" {
		return nil
	}
	if err := writePages(pagesOut, pages); err != nil {
		return err
	}
	c.Success("Wrote %d pages to %s", len(pages), pagesOut)
	return nil
}

func writePages(dir string, pages []domain.PageImage) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.IOError("cannot create output directory", err)
	}
	for _, p := range pages {
		name := filepath.Join(dir, fmt.Sprintf("page-%03d.png", p.PageNumber))
		if err := os.WriteFile(name, p.Image, 0o644); err != nil {
			return domain.IOError("cannot write "+name, err)
		}
		if len(p.Thumbnail) == 0 {
			continue
		}
		thumb := filepath.Join(dir, fmt.Sprintf("page-%03d-thumb.png", p.PageNumber))
		if err := os.WriteFile(thumb, p.Thumbnail, 0o644); err != nil {
			return domain.IOError("cannot write "+thumb, err)
		}
	}
	return nil
}
