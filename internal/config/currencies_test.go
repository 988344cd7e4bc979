package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewCurrencyHolder_Defaults(t *testing.T) {
	holder, err := NewCurrencyHolder(zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "0.01", holder.Rounding("USD").String())
	assert.Equal(t, "1", holder.Rounding("JPY").String())
	assert.Equal(t, "0.05", holder.Rounding("chf").String())

	assert.True(t, holder.Known("usd"))
	assert.False(t, holder.Known("XYZ"))
	// Unknown codes fall back to two decimals.
	assert.Equal(t, "0.01", holder.Rounding("XYZ").String())
}

func TestBuildCurrencyTable_RejectsBadEntries(t *testing.T) {
	_, err := buildCurrencyTable(nil)
	assert.Error(t, err)

	_, err = buildCurrencyTable([]CurrencyPrecision{{Code: "", Rounding: "0.01"}})
	assert.Error(t, err)

	_, err = buildCurrencyTable([]CurrencyPrecision{{Code: "USD", Rounding: "-0.01"}})
	assert.Error(t, err)

	_, err = buildCurrencyTable([]CurrencyPrecision{{Code: "USD", Rounding: "abc"}})
	assert.Error(t, err)
}
