package engine

import (
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// AmountKind selects how a tax amount is derived from the base.
type AmountKind string

const (
	// AmountKindGroup aggregates child taxes, applied in their own sequence order.
	AmountKindGroup AmountKind = "group"
	// AmountKindFixed is a flat amount per unit, independent of the base.
	AmountKindFixed AmountKind = "fixed"
	// AmountKindPercent is a percentage of the tax-exclusive base.
	AmountKindPercent AmountKind = "percent"
	// AmountKindDivision is a percentage of the tax-included price.
	AmountKindDivision AmountKind = "division"
)

// RepartitionKind classifies a repartition line.
type RepartitionKind string

const (
	RepartitionKindBase RepartitionKind = "base"
	RepartitionKindTax  RepartitionKind = "tax"
)

var (
	ErrTaxCycle            = errors.New("tax_group_cycle")
	ErrInvalidAmountKind   = errors.New("invalid_amount_kind")
	ErrInvalidRepartition  = errors.New("invalid_repartition_lines")
	ErrRepartitionMismatch = errors.New("repartition_lines_mismatch")
	ErrDivisionRate        = errors.New("division_rate_out_of_range")
)

// RepartitionLine routes a fractional share of a computed tax amount to an
// accounting destination. AccountID zero means "no account" and the share
// counts toward the document's total_void.
type RepartitionLine struct {
	ID        snowflake.ID
	Kind      RepartitionKind
	Factor    decimal.Decimal
	AccountID snowflake.ID
	TagIDs    []snowflake.ID
}

// TaxGroup is the display classification used by the totals presenter.
type TaxGroup struct {
	ID                snowflake.ID
	Name              string
	Sequence          int
	PrecedingSubtotal string
}

// Definition is the engine-facing description of a tax. Definitions are
// treated as read-only for the duration of one computation call.
type Definition struct {
	ID                snowflake.ID
	Name              string
	Sequence          int
	AmountKind        AmountKind
	Rate              decimal.Decimal
	PriceIncluded     bool
	IncludeBaseAmount bool
	IsBaseAffected    bool

	Children []*Definition

	InvoiceRepartition []RepartitionLine
	RefundRepartition  []RepartitionLine

	TaxGroup *TaxGroup
}

// Currency carries the precision parameters the engine needs. Rounding is the
// smallest representable increment (0.01 for most currencies); a zero rounding
// disables rounding-error distribution.
type Currency struct {
	Code     string
	Rounding decimal.Decimal
}

// Round rounds an amount to the currency's rounding increment.
func (c Currency) Round(amount decimal.Decimal) decimal.Decimal {
	return roundToIncrement(amount, c.Rounding)
}

// IsZero reports whether the amount rounds to zero in this currency.
func (c Currency) IsZero(amount decimal.Decimal) bool {
	return c.Round(amount).IsZero()
}

// BaseLine is the priced item taxes are computed against.
type BaseLine struct {
	PriceUnit decimal.Decimal
	Quantity  decimal.Decimal
	// Discount is a percentage between 0 and 100.
	Discount decimal.Decimal
	Currency Currency
	Taxes    []*Definition
	IsRefund bool
	// Rate converts document-currency amounts to company currency
	// (company amount = document amount / Rate). Zero means 1.
	Rate decimal.Decimal
	// HandlePriceIncluded honors price_included flags. When false every tax is
	// computed as price-excluded against the given base.
	HandlePriceIncluded bool
	// ForcePriceIncluded treats every tax as folded into the price, regardless
	// of its own flag. Only honored when HandlePriceIncluded is true.
	ForcePriceIncluded bool
	// FixedMultiplier scales fixed-kind amounts (negative for refund
	// adjustments). Zero means 1.
	FixedMultiplier decimal.Decimal
}

// Detail is the computed outcome for one <line, leaf tax, tax repartition line>
// triple. Amounts are signed and expressed in both the document currency and
// the company currency.
type Detail struct {
	TaxID         snowflake.ID
	Name          string
	Sequence      int
	AmountKind    AmountKind
	PriceIncluded bool

	// GroupID is the group-kind tax this leaf was flattened out of, zero when
	// the tax was passed directly.
	GroupID  snowflake.ID
	TaxGroup TaxGroup

	RepartitionLineID snowflake.ID
	AccountID         snowflake.ID
	TagIDs            []snowflake.ID

	// SubsequentTaxIDs are the higher-sequence taxes whose base includes this
	// detail's amount, used for tag propagation by the caller.
	SubsequentTaxIDs []snowflake.ID

	BaseAmount         decimal.Decimal
	BaseAmountCompany  decimal.Decimal
	DisplayBase        decimal.Decimal
	DisplayBaseCompany decimal.Decimal
	TaxAmount          decimal.Decimal
	TaxAmountCompany   decimal.Decimal
}

// Result is the outcome of one ComputeAll call.
type Result struct {
	TotalExcluded decimal.Decimal
	TotalIncluded decimal.Decimal
	// TotalVoid sums tax amounts routed to repartition lines without a
	// destination account.
	TotalVoid decimal.Decimal
	// RoundingAdjustments counts the repartition amounts that were nudged to
	// reconcile per-line rounding with the rounded tax total.
	RoundingAdjustments int
	BaseTags            []snowflake.ID
	Details             []Detail
}

// roundToIncrement rounds half away from zero to a multiple of the increment.
// A non-positive increment leaves the amount untouched.
func roundToIncrement(amount, increment decimal.Decimal) decimal.Decimal {
	if increment.Sign() <= 0 {
		return amount
	}
	return amount.Div(increment).Round(0).Mul(increment)
}
