/*
csv.go - CSV-backed audit log

One row per entry: timestamp, user_id, event, details. The header row is
written only when the file is created, so the log survives restarts as
a single continuous spreadsheet. Rows are flushed on every append; an
audit log that loses its tail on a crash is not worth much.
*/
package audit

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"
)

var csvHeader = []string{"timestamp", "user_id", "event", "details"}

// CSVLog appends audit entries to a CSV file. Safe for concurrent use.
type CSVLog struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	now    func() time.Time
}

// NewCSVLog opens (or creates) the log file at path. A freshly created
// file gets the header row.
func NewCSVLog(path string) (*CSVLog, error) {
	info, err := os.Stat(path)
	fresh := os.IsNotExist(err)
	if err != nil && !fresh {
		return nil, fmt.Errorf("stat audit log: %w", err)
	}
	if !fresh && info.IsDir() {
		return nil, fmt.Errorf("audit log path %s is a directory", path)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	log := &CSVLog{
		file:   file,
		writer: csv.NewWriter(file),
		now:    time.Now,
	}

	if fresh {
		if err := log.writer.Write(csvHeader); err != nil {
			file.Close()
			return nil, fmt.Errorf("write audit header: %w", err)
		}
		log.writer.Flush()
		if err := log.writer.Error(); err != nil {
			file.Close()
			return nil, fmt.Errorf("flush audit header: %w", err)
		}
	}
	return log, nil
}

// Append writes one entry and flushes it to disk.
func (l *CSVLog) Append(_ context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	when := e.Time
	if when.IsZero() {
		when = l.now()
	}

	row := []string{
		when.Format(time.RFC3339),
		string(e.ActorID),
		string(e.Kind),
		e.Details,
	}
	if err := l.writer.Write(row); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		return fmt.Errorf("flush audit entry: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (l *CSVLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}
