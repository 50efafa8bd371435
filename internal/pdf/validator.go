package pdf

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical/takeoff/internal/domain"
	"github.com/spherical/takeoff/internal/observability"
)

const largeFileSize = 100 << 20

var pdfMagic = []byte("%PDF-")

// ValidatePDFPath checks that path names a readable file with a .pdf
// extension. Oversized files are logged, not rejected.
func ValidatePDFPath(path string, logger *observability.Logger) error {
	if strings.TrimSpace(path) == "" {
		return domain.ValidationError("file path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ValidationError(fmt.Sprintf("file does not exist: %s", path), err)
		}
		return domain.ValidationError(fmt.Sprintf("cannot access file: %s", path), err)
	}
	if info.IsDir() {
		return domain.ValidationError(fmt.Sprintf("path is a directory, not a file: %s", path), nil)
	}

	if ext := strings.ToLower(filepath.Ext(path)); ext != ".pdf" {
		return domain.ValidationError(fmt.Sprintf("file is not a PDF (has extension %s)", ext), nil)
	}

	if info.Size() > largeFileSize && logger != nil {
		logger.Warn().Str("path", path).Int64("size_mb", info.Size()>>20).Msg("PDF file is very large, rendering may take a while")
	}

	f, err := os.Open(path)
	if err != nil {
		return domain.ValidationError(fmt.Sprintf("cannot open file: %s", path), err)
	}
	return f.Close()
}

// HasPDFHeader reports whether data starts with the PDF magic, allowing
// leading whitespace.
func HasPDFHeader(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), pdfMagic)
}
