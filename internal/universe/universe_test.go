package universe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-scanner/internal/model"
)

func TestParseYAML(t *testing.T) {
	got, err := Parse([]byte(`
stocks: [AAPL, MSFT, " ", AAPL]
crypto:
  - BINANCE:BTCUSDT
  - BINANCE:ETHUSDT
`))
	require.NoError(t, err)
	assert.Equal(t, []model.Instrument{
		{Symbol: "AAPL", Kind: model.KindEquity},
		{Symbol: "MSFT", Kind: model.KindEquity},
		{Symbol: "BINANCE:BTCUSDT", Kind: model.KindCrypto},
		{Symbol: "BINANCE:ETHUSDT", Kind: model.KindCrypto},
	}, got)
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "universe.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"stocks":["NVDA"],"crypto":["BINANCE:SOLUSDT"]}`), 0o644))

	got, err := Load(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.KindCrypto, got[1].Kind)
}

func TestParseRejectsEmpty(t *testing.T) {
	_, err := Parse([]byte(`stocks: []`))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
