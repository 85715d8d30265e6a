package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const diagnosticsRule = "================================================================================"

// DiagnosticsFile returns the diagnostics file name for an upload.
func DiagnosticsFile(uploadID string) string {
	return uploadID + "_ocr_result.txt"
}

// FileSink writes one plain-text report per upload into Dir. The pipeline
// never reads these files back.
type FileSink struct {
	Dir string
}

func (s FileSink) Record(uploadID string, result Result) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("creating diagnostics directory: %w", err)
	}
	path := filepath.Join(s.Dir, DiagnosticsFile(uploadID))
	if err := os.WriteFile(path, []byte(FormatReport(result)), 0o644); err != nil {
		return fmt.Errorf("writing diagnostics: %w", err)
	}
	return nil
}

// FormatReport renders a result as the diagnostics report.
func FormatReport(result Result) string {
	method := string(result.Method)
	if !result.Succeeded {
		method = "None (all methods failed)"
	} else if result.Engine != "" {
		method = fmt.Sprintf("%s (%s)", result.Method, result.Engine)
	}
	pages := "unknown"
	if result.PageCount >= 0 {
		pages = fmt.Sprint(result.PageCount)
	}

	var b strings.Builder
	b.WriteString(diagnosticsRule + "\n")
	b.WriteString("OCR EXTRACTION RESULT\n")
	fmt.Fprintf(&b, "Method: %s\n", method)
	fmt.Fprintf(&b, "Source: %s\n", result.Source)
	fmt.Fprintf(&b, "Total Characters: %d\n", len(result.Text))
	fmt.Fprintf(&b, "Number of Pages: %s\n", pages)
	fmt.Fprintf(&b, "Duration: %s\n", result.Duration.Round(time.Millisecond))
	for _, p := range result.Pages {
		fmt.Fprintf(&b, "Page %d: %d lines, %d characters, %.0f%% covered\n", p.Number, p.Lines, p.Chars, p.Coverage*100)
	}
	b.WriteString(diagnosticsRule + "\n\n")
	b.WriteString(result.Text)
	return b.String()
}
