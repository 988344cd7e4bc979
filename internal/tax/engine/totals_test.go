package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func totalsDetail(group TaxGroup, base, tax string) Detail {
	return Detail{
		TaxGroup:           group,
		DisplayBase:        d(base),
		DisplayBaseCompany: d(base),
		TaxAmount:          d(tax),
		TaxAmountCompany:   d(tax),
	}
}

func TestPrepareTaxTotals_SingleGroup(t *testing.T) {
	vat := TaxGroup{ID: 1, Name: "VAT 15%", Sequence: 1}
	lines := []TotalsLine{{
		Currency:      eur(),
		TotalExcluded: d("100"),
		Details:       []Detail{totalsDetail(vat, "100", "15")},
	}}

	totals := PrepareTaxTotals(lines, d("0.01"))

	assert.Equal(t, "100", totals.AmountUntaxed.String())
	assert.Equal(t, "115", totals.AmountTotal.String())
	assert.False(t, totals.DisplayTaxBase)

	require.Len(t, totals.Subtotals, 1)
	section := totals.Subtotals[0]
	assert.Equal(t, DefaultSubtotalLabel, section.Name)
	assert.Equal(t, "100", section.Amount.String())
	require.Len(t, section.Groups, 1)
	assert.Equal(t, "VAT 15%", section.Groups[0].Group.Name)
	assert.Equal(t, "15", section.Groups[0].TaxAmount.String())
	assert.Equal(t, "100", section.Groups[0].BaseAmount.String())
}

func TestPrepareTaxTotals_GroupsOrderedBySequence(t *testing.T) {
	second := TaxGroup{ID: 2, Name: "Second", Sequence: 5}
	first := TaxGroup{ID: 1, Name: "First", Sequence: 1}

	lines := []TotalsLine{{
		Currency:      eur(),
		TotalExcluded: d("100"),
		Details: []Detail{
			totalsDetail(second, "100", "5"),
			totalsDetail(first, "100", "10"),
		},
	}}

	totals := PrepareTaxTotals(lines, d("0.01"))

	require.Len(t, totals.Subtotals, 1)
	groups := totals.Subtotals[0].Groups
	require.Len(t, groups, 2)
	assert.Equal(t, "First", groups[0].Group.Name)
	assert.Equal(t, "Second", groups[1].Group.Name)
	assert.Equal(t, "115", totals.AmountTotal.String())
}

func TestPrepareTaxTotals_PrecedingSubtotalSections(t *testing.T) {
	vat := TaxGroup{ID: 1, Name: "VAT", Sequence: 1}
	withholding := TaxGroup{ID: 2, Name: "Withholding", Sequence: 2, PrecedingSubtotal: "Tax withholding"}

	lines := []TotalsLine{{
		Currency:      eur(),
		TotalExcluded: d("100"),
		Details: []Detail{
			totalsDetail(vat, "100", "10"),
			totalsDetail(withholding, "100", "-5"),
		},
	}}

	totals := PrepareTaxTotals(lines, d("0.01"))

	require.Len(t, totals.Subtotals, 2)
	assert.Equal(t, DefaultSubtotalLabel, totals.Subtotals[0].Name)
	assert.Equal(t, "100", totals.Subtotals[0].Amount.String())
	assert.Equal(t, "Tax withholding", totals.Subtotals[1].Name)
	// The second section's label amount is the running total after the first
	// section's taxes.
	assert.Equal(t, "110", totals.Subtotals[1].Amount.String())
	assert.Equal(t, "105", totals.AmountTotal.String())
	assert.True(t, totals.DisplayTaxBase)
}

func TestPrepareTaxTotals_MultipleLinesAccumulate(t *testing.T) {
	vat := TaxGroup{ID: 1, Name: "VAT", Sequence: 1}
	lines := []TotalsLine{
		{
			Currency:      eur(),
			TotalExcluded: d("100"),
			Details:       []Detail{totalsDetail(vat, "100", "15")},
		},
		{
			Currency:      eur(),
			TotalExcluded: d("50"),
			Details:       []Detail{totalsDetail(vat, "50", "7.5")},
		},
	}

	totals := PrepareTaxTotals(lines, d("0.01"))

	assert.Equal(t, "150", totals.AmountUntaxed.String())
	assert.Equal(t, "172.5", totals.AmountTotal.String())
	require.Len(t, totals.Subtotals, 1)
	assert.Equal(t, "150", totals.Subtotals[0].Groups[0].BaseAmount.String())
}

func TestPrepareTaxTotals_DisplayBaseOnDivergentBases(t *testing.T) {
	// A group whose base differs from the untaxed amount forces the base
	// column to show.
	vat := TaxGroup{ID: 1, Name: "VAT", Sequence: 1}
	lines := []TotalsLine{{
		Currency:      eur(),
		TotalExcluded: d("100"),
		Details:       []Detail{totalsDetail(vat, "110", "11")},
	}}

	totals := PrepareTaxTotals(lines, d("0.01"))
	assert.True(t, totals.DisplayTaxBase)
}

func TestPrepareTaxTotals_BaseCountedOncePerLinePerGroup(t *testing.T) {
	vat := TaxGroup{ID: 1, Name: "VAT", Sequence: 1}
	lines := []TotalsLine{{
		Currency:      eur(),
		TotalExcluded: d("100"),
		Details: []Detail{
			totalsDetail(vat, "100", "7.5"),
			totalsDetail(vat, "100", "7.5"),
		},
	}}

	totals := PrepareTaxTotals(lines, d("0.01"))

	require.Len(t, totals.Subtotals, 1)
	group := totals.Subtotals[0].Groups[0]
	assert.Equal(t, "100", group.BaseAmount.String())
	assert.Equal(t, "15", group.TaxAmount.String())
}

func TestPrepareTaxTotals_CompanyCurrencyRate(t *testing.T) {
	vat := TaxGroup{ID: 1, Name: "VAT", Sequence: 1}
	det := totalsDetail(vat, "100", "15")
	det.TaxAmountCompany = d("7.5")
	det.DisplayBaseCompany = d("50")

	lines := []TotalsLine{{
		Currency:      eur(),
		TotalExcluded: d("100"),
		Rate:          d("2"),
		Details:       []Detail{det},
	}}

	totals := PrepareTaxTotals(lines, d("0.01"))

	assert.Equal(t, "50", totals.AmountUntaxedCompany.String())
	assert.Equal(t, "57.5", totals.AmountTotalCompany.String())
}

func TestPrepareTaxTotals_Empty(t *testing.T) {
	totals := PrepareTaxTotals(nil, decimal.Zero)

	assert.True(t, totals.AmountUntaxed.IsZero())
	assert.True(t, totals.AmountTotal.IsZero())
	assert.Empty(t, totals.Subtotals)
	assert.False(t, totals.DisplayTaxBase)
}
