// Package report renders and persists artefacts: threshold-driven IT
// tickets and the periodic CISO weekly report.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quantumlayerhq/aetim/pkg/models"
)

// relativePath lays a report out under {YYYY}/{YYYYMM}/{Kind}_Report_{date}.{ext}.
// suffix disambiguates artefacts generated on the same day.
func relativePath(kind models.ReportKind, ts time.Time, suffix string, format models.ReportFormat) string {
	name := "CISO_Weekly_Report"
	if kind == models.ReportKindItTicket {
		name = "IT_Ticket_Report"
	}
	file := fmt.Sprintf("%s_%s", name, ts.Format("2006-01-02"))
	if suffix != "" {
		file += "_" + suffix
	}
	return filepath.Join(
		ts.Format("2006"),
		ts.Format("200601"),
		fmt.Sprintf("%s.%s", file, format),
	)
}

// writeAtomic persists the artefact with a write-to-temp + rename so a
// crash never leaves a half-written report behind.
func writeAtomic(baseDir, relPath string, data []byte) error {
	full := filepath.Join(baseDir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".report-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing report: %w", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming report into place: %w", err)
	}
	return nil
}
