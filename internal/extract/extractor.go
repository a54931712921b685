// Package extract reads uploaded files and produces bounded plain text for
// analysis.
package extract

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxTextLength caps extracted text so oversized uploads cannot blow up the
// analysis prompt or the extracted_text column.
const MaxTextLength = 50_000

// Extractor produces text from stored file bytes. It never returns an
// error: unsupported formats and read failures yield a descriptive
// placeholder so the pipeline can proceed to analysis regardless.
type Extractor struct{}

// New creates an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// textMimeTypes are non-"text/" mime types still treated as plain text.
var textMimeTypes = map[string]bool{
	"application/json":         true,
	"application/javascript":   true,
	"application/x-javascript": true,
	"application/xml":          true,
	"application/x-yaml":       true,
	"application/yaml":         true,
}

// Extract returns the file's text content, capped at MaxTextLength, or a
// placeholder describing why extraction was skipped.
func (e *Extractor) Extract(path, mimeType string) string {
	if strings.HasPrefix(mimeType, "text/") || textMimeTypes[mimeType] {
		return e.readText(path)
	}

	name := filepath.Base(path)
	switch {
	case mimeType == "application/pdf":
		return fmt.Sprintf("[PDF file detected - text extraction not supported. Filename: %s]", name)
	case strings.Contains(mimeType, "word") || strings.Contains(mimeType, "document"):
		return fmt.Sprintf("[Document file detected - text extraction not supported. Filename: %s]", name)
	case strings.Contains(mimeType, "spreadsheet") || strings.Contains(mimeType, "excel"):
		return fmt.Sprintf("[Spreadsheet file detected - text extraction not supported. Filename: %s]", name)
	case strings.HasPrefix(mimeType, "image/"):
		return fmt.Sprintf("[Image file detected - OCR not supported. Filename: %s]", name)
	default:
		return fmt.Sprintf("[Unsupported file type: %s. Filename: %s]", mimeType, name)
	}
}

func (e *Extractor) readText(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Sprintf("[Error extracting text: %v]", err)
	}
	defer f.Close()

	// Read one byte past the cap to detect truncation without loading the
	// whole file.
	data, err := io.ReadAll(io.LimitReader(f, MaxTextLength+1))
	if err != nil {
		return fmt.Sprintf("[Error extracting text: %v]", err)
	}
	if len(data) > MaxTextLength {
		// Cut on a rune boundary; a split rune is invalid UTF-8.
		cut := MaxTextLength
		for cut > 0 && !utf8.RuneStart(data[cut]) {
			cut--
		}
		data = data[:cut]
	}
	return string(data)
}
