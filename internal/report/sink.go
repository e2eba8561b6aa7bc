package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const latestFile = "latest.json"

// Sink persists a finished report.
type Sink interface {
	WriteReport(ctx context.Context, r RunReport) error
}

// MultiSink writes to every sink and joins their errors.
type MultiSink []Sink

// WriteReport implements Sink.
func (m MultiSink) WriteReport(ctx context.Context, r RunReport) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteReport(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FileSink writes run-<stamp>.json and latest.json into Dir.
type FileSink struct {
	Dir string
}

// NewFileSink returns a sink rooted at dir.
func NewFileSink(dir string) *FileSink {
	if dir == "" {
		dir = "reports"
	}
	return &FileSink{Dir: dir}
}

// FileName returns the timestamped file name used for r.
func FileName(r RunReport) string {
	stamp := r.StartedAt.UTC().Format("2006-01-02T15-04-05-000Z")
	return "run-" + stamp + ".json"
}

// WriteReport implements Sink.
func (s *FileSink) WriteReport(_ context.Context, r RunReport) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	payload, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	for _, name := range []string{FileName(r), latestFile} {
		if err := writeAtomic(filepath.Join(s.Dir, name), payload); err != nil {
			return err
		}
	}
	return nil
}

// Latest reads latest.json.
func (s *FileSink) Latest() (RunReport, error) {
	return ReadFile(filepath.Join(s.Dir, latestFile))
}

// List returns up to limit report file paths, newest first.
func (s *FileSink) List(limit int) ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list reports: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "run-") && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(s.Dir, n)
	}
	return out, nil
}

// ReadFile decodes a report written by FileSink.
func ReadFile(path string) (RunReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunReport{}, fmt.Errorf("read report: %w", err)
	}
	var r RunReport
	if err := json.Unmarshal(data, &r); err != nil {
		return RunReport{}, fmt.Errorf("decode report %s: %w", path, err)
	}
	return r, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

var (
	_ Sink = (*FileSink)(nil)
	_ Sink = MultiSink(nil)
)
