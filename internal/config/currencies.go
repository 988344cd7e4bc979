package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CurrencyPrecision describes one currency's rounding behavior.
type CurrencyPrecision struct {
	Code     string `mapstructure:"code"`
	Rounding string `mapstructure:"rounding"`
}

// DefaultCurrencies covers the common two-decimal case plus the usual
// zero-decimal outliers. A currencies.yml overrides the whole list.
func DefaultCurrencies() []CurrencyPrecision {
	return []CurrencyPrecision{
		{Code: "USD", Rounding: "0.01"},
		{Code: "EUR", Rounding: "0.01"},
		{Code: "GBP", Rounding: "0.01"},
		{Code: "IDR", Rounding: "1"},
		{Code: "JPY", Rounding: "1"},
		{Code: "KRW", Rounding: "1"},
		{Code: "SGD", Rounding: "0.01"},
		{Code: "CHF", Rounding: "0.05"},
	}
}

// CurrencyHolder exposes per-currency rounding increments with hot reload.
type CurrencyHolder struct {
	current atomic.Value // holds map[string]decimal.Decimal
}

func NewCurrencyHolder(log *zap.Logger) (*CurrencyHolder, error) {
	log = log.Named("currency.config")
	v := viper.New()

	v.SetConfigName("currencies")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/taxline/config") // Volume-mounted config
	v.AddConfigPath("/etc/taxline")            // System config
	v.AddConfigPath(".")                       // Current directory (dev mode)

	v.SetEnvPrefix("TAXLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		v.SetDefault("currencies", DefaultCurrencies())
	}

	var entries []CurrencyPrecision
	if err := v.UnmarshalKey("currencies", &entries); err != nil {
		return nil, err
	}
	table, err := buildCurrencyTable(entries)
	if err != nil {
		return nil, err
	}

	holder := &CurrencyHolder{}
	holder.current.Store(table)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated []CurrencyPrecision
		if err := v.UnmarshalKey("currencies", &updated); err != nil {
			log.Warn("currency config reload failed", zap.Error(err))
			return
		}
		table, err := buildCurrencyTable(updated)
		if err != nil {
			log.Warn("invalid currency config ignored", zap.Error(err))
			return
		}
		holder.current.Store(table)
		log.Info("currency config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// Rounding returns the rounding increment for a currency code. Unknown codes
// fall back to two decimals.
func (h *CurrencyHolder) Rounding(code string) decimal.Decimal {
	table := h.current.Load().(map[string]decimal.Decimal)
	if rounding, ok := table[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return rounding
	}
	return decimal.NewFromFloat(0.01)
}

// Known reports whether a currency code is configured.
func (h *CurrencyHolder) Known(code string) bool {
	table := h.current.Load().(map[string]decimal.Decimal)
	_, ok := table[strings.ToUpper(strings.TrimSpace(code))]
	return ok
}

func buildCurrencyTable(entries []CurrencyPrecision) (map[string]decimal.Decimal, error) {
	if len(entries) == 0 {
		return nil, errors.New("currencies cannot be empty")
	}
	table := make(map[string]decimal.Decimal, len(entries))
	for _, entry := range entries {
		code := strings.ToUpper(strings.TrimSpace(entry.Code))
		if code == "" {
			return nil, errors.New("currency code cannot be empty")
		}
		rounding, err := decimal.NewFromString(strings.TrimSpace(entry.Rounding))
		if err != nil {
			return nil, err
		}
		if rounding.Sign() <= 0 {
			return nil, errors.New("currency rounding must be positive")
		}
		table[code] = rounding
	}
	return table, nil
}
