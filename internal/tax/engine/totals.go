package engine

import (
	"sort"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// DefaultSubtotalLabel names the section a tax group falls under when it
// declares no preceding subtotal of its own.
const DefaultSubtotalLabel = "Untaxed Amount"

// TotalsLine is one document line as seen by the totals presenter: the
// engine's computed details plus the line's tax-exclusive total.
type TotalsLine struct {
	Currency      Currency
	TotalExcluded decimal.Decimal
	// Rate converts to company currency; zero means 1.
	Rate    decimal.Decimal
	Details []Detail
}

// TaxGroupTotal is the rolled-up amount of one display tax group.
type TaxGroupTotal struct {
	Group TaxGroup

	TaxAmount        decimal.Decimal
	TaxAmountCompany decimal.Decimal
	BaseAmount       decimal.Decimal
	BaseCompany      decimal.Decimal
}

// SubtotalSection is one ordered section of the totals block. Amount is the
// running total shown next to the section label, before the section's tax
// groups are added.
type SubtotalSection struct {
	Name          string
	Amount        decimal.Decimal
	AmountCompany decimal.Decimal
	Groups        []TaxGroupTotal
}

// TaxTotals arranges aggregated tax-group amounts into ordered subtotal
// sections for display.
type TaxTotals struct {
	AmountUntaxed        decimal.Decimal
	AmountUntaxedCompany decimal.Decimal
	AmountTotal          decimal.Decimal
	AmountTotalCompany   decimal.Decimal

	Subtotals []SubtotalSection

	// DisplayTaxBase signals the UI to show the base per tax group: raised
	// when more than one distinct base amount or more than one subtotal
	// section is present.
	DisplayTaxBase bool
}

// PrepareTaxTotals rolls tax details up by tax-group membership and arranges
// the groups into subtotal sections by their preceding-subtotal label and
// sequence. The running total starts at the untaxed base and adds each
// section's tax-group amounts in section order, yielding the tax-included
// total.
func PrepareTaxTotals(lines []TotalsLine, companyRounding decimal.Decimal) *TaxTotals {
	amountUntaxed := decimal.Zero
	amountUntaxedCompany := decimal.Zero

	type groupAccumulator struct {
		group       TaxGroup
		tax         decimal.Decimal
		taxCompany  decimal.Decimal
		base        decimal.Decimal
		baseCompany decimal.Decimal
	}
	groupIndex := make(map[snowflake.ID]*groupAccumulator)
	var groupOrder []*groupAccumulator

	for _, line := range lines {
		rate := line.Rate
		if rate.IsZero() {
			rate = one
		}
		amountUntaxed = amountUntaxed.Add(line.Currency.Round(line.TotalExcluded))
		amountUntaxedCompany = amountUntaxedCompany.Add(
			roundToIncrement(line.TotalExcluded.Div(rate), companyRounding))

		lineGroups := make(map[snowflake.ID]bool)
		for _, detail := range line.Details {
			acc, ok := groupIndex[detail.TaxGroup.ID]
			if !ok {
				acc = &groupAccumulator{group: detail.TaxGroup}
				groupIndex[detail.TaxGroup.ID] = acc
				groupOrder = append(groupOrder, acc)
			}
			acc.tax = acc.tax.Add(detail.TaxAmount)
			acc.taxCompany = acc.taxCompany.Add(detail.TaxAmountCompany)

			// The display base is counted once per line per group; repartition
			// lines of the same tax share it.
			if !lineGroups[detail.TaxGroup.ID] {
				lineGroups[detail.TaxGroup.ID] = true
				acc.base = acc.base.Add(line.Currency.Round(detail.DisplayBase))
				acc.baseCompany = acc.baseCompany.Add(
					roundToIncrement(detail.DisplayBaseCompany, companyRounding))
			}
		}
	}

	sort.SliceStable(groupOrder, func(i, j int) bool {
		if groupOrder[i].group.Sequence != groupOrder[j].group.Sequence {
			return groupOrder[i].group.Sequence < groupOrder[j].group.Sequence
		}
		return groupOrder[i].group.ID < groupOrder[j].group.ID
	})

	encounteredBases := map[string]bool{amountUntaxed.String(): true}
	sectionOrder := make(map[string]int)
	sections := make(map[string][]TaxGroupTotal)
	var sectionNames []string

	for _, acc := range groupOrder {
		label := acc.group.PrecedingSubtotal
		if label == "" {
			label = DefaultSubtotalLabel
		}
		if _, ok := sectionOrder[label]; !ok {
			sectionOrder[label] = acc.group.Sequence
			sectionNames = append(sectionNames, label)
		}
		sections[label] = append(sections[label], TaxGroupTotal{
			Group:            acc.group,
			TaxAmount:        acc.tax,
			TaxAmountCompany: acc.taxCompany,
			BaseAmount:       acc.base,
			BaseCompany:      acc.baseCompany,
		})
		encounteredBases[acc.base.String()] = true
	}

	sort.SliceStable(sectionNames, func(i, j int) bool {
		return sectionOrder[sectionNames[i]] < sectionOrder[sectionNames[j]]
	})

	totals := &TaxTotals{
		AmountUntaxed:        amountUntaxed,
		AmountUntaxedCompany: amountUntaxedCompany,
		DisplayTaxBase:       len(encounteredBases) != 1 || len(sectionNames) > 1,
	}

	runningTotal := amountUntaxed
	runningCompany := amountUntaxedCompany
	for _, name := range sectionNames {
		section := SubtotalSection{
			Name:          name,
			Amount:        runningTotal,
			AmountCompany: runningCompany,
			Groups:        sections[name],
		}
		totals.Subtotals = append(totals.Subtotals, section)
		for _, g := range sections[name] {
			runningTotal = runningTotal.Add(g.TaxAmount)
			runningCompany = runningCompany.Add(g.TaxAmountCompany)
		}
	}
	totals.AmountTotal = runningTotal
	totals.AmountTotalCompany = runningCompany

	return totals
}
