// Package export writes harvested records as CSV.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/email-harvester/internal/harvest"
)

// ContentType is the media type of WriteCSV output.
const ContentType = "text/csv; charset=utf-8"

// Columns is the CSV header, in order.
var Columns = []string{
	"email",
	"first_seen_source",
	"all_sources",
	"domain",
	"mx_ok",
	"hunter_result",
	"hunter_confidence",
	"quality",
	"date_scraped_utc",
	"notes",
}

// WriteCSV writes a header and one row per record.
func WriteCSV(w io.Writer, records []harvest.EmailRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, rec := range records {
		if err := cw.Write(Row(rec)); err != nil {
			return fmt.Errorf("write row %s: %w", rec.Email, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// Row renders one record in Columns order.
func Row(rec harvest.EmailRecord) []string {
	mx := "no"
	if rec.MXValid {
		mx = "yes"
	}
	var result, confidence string
	if rec.Verification != nil {
		result = string(rec.Verification.Result)
		if rec.Verification.Confidence != nil {
			confidence = strconv.Itoa(*rec.Verification.Confidence)
		}
	}
	var scraped string
	if !rec.FirstSeen.IsZero() {
		scraped = rec.FirstSeen.UTC().Format(time.RFC3339)
	}
	return []string{
		rec.Email,
		rec.FirstSource,
		strings.Join(rec.Sources, ";"),
		rec.Domain,
		mx,
		result,
		confidence,
		string(rec.Quality),
		scraped,
		strings.Join(rec.Notes, ";"),
	}
}

// Bytes renders records into memory, for uploads.
func Bytes(records []harvest.EmailRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile writes records to path, creating parent directories. The file is
// written to a temporary name first and renamed into place.
func WriteFile(path string, records []harvest.EmailRecord) (err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".harvest-*.csv")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if err := WriteCSV(tmp, records); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}

// ObjectPath names a run's export: <prefix>/<yyyy>/<mm>/<dd>/<runID>.csv in UTC.
func ObjectPath(prefix, runID string, at time.Time) string {
	at = at.UTC()
	name := fmt.Sprintf("%04d/%02d/%02d/%s.csv", at.Year(), at.Month(), at.Day(), runID)
	if prefix = strings.Trim(prefix, "/"); prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
