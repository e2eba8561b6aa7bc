// Package universe loads the list of instruments to scan.
package universe

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"market-scanner/internal/model"
)

// File is the on-disk shape. JSON documents parse as well since they are
// valid YAML.
type File struct {
	Stocks []string `yaml:"stocks"`
	Crypto []string `yaml:"crypto"`
}

// Load reads path and returns the instruments, equities first, in file
// order.
func Load(path string) ([]model.Instrument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read universe: %w", err)
	}
	return Parse(data)
}

// Parse decodes a universe document. Blank and repeated symbols are dropped.
func Parse(data []byte) ([]model.Instrument, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode universe: %w", err)
	}

	seen := make(map[string]struct{})
	out := make([]model.Instrument, 0, len(f.Stocks)+len(f.Crypto))
	add := func(symbols []string, kind model.Kind) {
		for _, s := range symbols {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			key := string(kind) + "|" + s
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, model.Instrument{Symbol: s, Kind: kind})
		}
	}
	add(f.Stocks, model.KindEquity)
	add(f.Crypto, model.KindCrypto)

	if len(out) == 0 {
		return nil, fmt.Errorf("universe is empty")
	}
	return out, nil
}
