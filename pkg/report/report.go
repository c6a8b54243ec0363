// Package report emits the end-of-day harvest summary as a JSON file.
// Presentation beyond the JSON snapshot is someone else's job.
package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"harvester/pkg/errors"
	"harvester/pkg/logger"
	"harvester/pkg/stats"
)

// SourceSummary is one source's quota outcome for the day.
type SourceSummary struct {
	Source   string  `json:"source"`
	Target   int     `json:"target"`
	Achieved int     `json:"achieved"`
	Met      bool    `json:"met"`
	Fraction float64 `json:"fraction"`
}

// Daily is the report payload written once per day rollover.
type Daily struct {
	Date        string          `json:"date"`
	GeneratedAt time.Time       `json:"generated_at"`
	Sources     []SourceSummary `json:"sources"`
	Run         stats.Snapshot  `json:"run"`
}

// Reporter consumes the daily rollover snapshot.
type Reporter interface {
	Report(daily Daily) error
}

// FileReporter writes one JSON file per day into a report directory.
type FileReporter struct {
	dir string
	log logger.Logger
}

func NewFileReporter(dir string, log logger.Logger) *FileReporter {
	if log == nil {
		log = logger.GetLogger()
	}
	return &FileReporter{dir: dir, log: log}
}

// Report writes the daily file atomically: full write to a temp file
// in the same directory, then rename over the final name.
func (f *FileReporter) Report(daily Daily) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return errors.Wrap(errors.ErrorTypeStorage, "create report directory", err)
	}

	data, err := json.MarshalIndent(daily, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrorTypeStorage, "marshal report", err)
	}

	final := filepath.Join(f.dir, "harvest-report-"+daily.Date+".json")
	tmp, err := os.CreateTemp(f.dir, "report-*.tmp")
	if err != nil {
		return errors.Wrap(errors.ErrorTypeStorage, "create report temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(errors.ErrorTypeStorage, "write report", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(errors.ErrorTypeStorage, "close report", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(errors.ErrorTypeStorage, "publish report", err)
	}

	f.log.InfoWithFields("daily report written", map[string]interface{}{
		"path": final,
	})
	return nil
}
