package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/khanhnv2901/seca-trust/internal/report"
	"github.com/khanhnv2901/seca-trust/internal/shared/constants"
)

type telemetryRecord struct {
	Timestamp       time.Time `json:"timestamp"`
	Command         string    `json:"command"`
	Mode            string    `json:"mode"`
	Overall         string    `json:"overall"`
	Signals         int       `json:"signals"`
	PassCount       int       `json:"pass_count"`
	FailCount       int       `json:"fail_count"`
	SkippedCount    int       `json:"skipped_count"`
	DurationSeconds float64   `json:"duration_seconds"`
	Error           string    `json:"error,omitempty"`
}

func newTelemetryRecord(command string, r report.Report, duration time.Duration) telemetryRecord {
	pass, fail, skipped := r.Counts()
	return telemetryRecord{
		Timestamp:       r.GeneratedAt,
		Command:         command,
		Mode:            r.Mode,
		Overall:         string(r.Status.Overall),
		Signals:         r.Status.Count(),
		PassCount:       pass,
		FailCount:       fail,
		SkippedCount:    skipped,
		DurationSeconds: duration.Seconds(),
		Error:           r.State.ErrorMessage(),
	}
}

// recordTelemetry appends one JSON line to telemetry.jsonl in the results
// directory.
func recordTelemetry(appCtx *AppContext, record telemetryRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}

	telemetryPath := filepath.Join(appCtx.ResultsDir, telemetryFile)
	f, err := os.OpenFile(telemetryPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, constants.DefaultFilePerm)
	if err != nil {
		return fmt.Errorf("open telemetry file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write telemetry: %w", err)
	}
	return nil
}
