package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"market-scanner/internal/alerting"
)

const pushedPrefix = "pushed:"

// FileStore keeps dedupe state in a JSON object of "pushed:SYMBOL" keys
// holding epoch milliseconds. Keys without the prefix are preserved.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{path: path, logger: logger.With().Str("component", "file_store").Logger()}
}

// LoadDeliveries implements alerting.DedupeStore. A missing or unreadable
// file yields empty state.
func (f *FileStore) LoadDeliveries(_ context.Context) (map[string]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := f.readLocked()
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time)
	for key, value := range raw {
		if !strings.HasPrefix(key, pushedPrefix) {
			continue
		}
		var millis int64
		if err := json.Unmarshal(value, &millis); err != nil {
			f.logger.Warn().Str("key", key).Msg("ignoring non-numeric dedupe entry")
			continue
		}
		out[strings.TrimPrefix(key, pushedPrefix)] = time.UnixMilli(millis).UTC()
	}
	return out, nil
}

// SaveDelivery implements alerting.DedupeStore. The file is rewritten
// atomically on every call.
func (f *FileStore) SaveDelivery(_ context.Context, symbol string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := f.readLocked()
	if err != nil {
		return err
	}
	key := pushedPrefix + symbol
	millis := at.UnixMilli()
	if prev, ok := raw[key]; ok {
		var prevMillis int64
		if json.Unmarshal(prev, &prevMillis) == nil && prevMillis >= millis {
			return nil
		}
	}
	encoded, err := json.Marshal(millis)
	if err != nil {
		return err
	}
	raw[key] = encoded

	payload, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return f.writeLocked(payload)
}

func (f *FileStore) readLocked() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("read state %s: %w", f.path, err)
	}
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		f.logger.Warn().Err(err).Str("path", f.path).Msg("state file unreadable, starting empty")
		return map[string]json.RawMessage{}, nil
	}
	return raw, nil
}

func (f *FileStore) writeLocked(payload []byte) error {
	if dir := filepath.Dir(f.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

var _ alerting.DedupeStore = (*FileStore)(nil)
