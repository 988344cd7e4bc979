package engine

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

var (
	oneHundred = decimal.NewFromInt(100)
	one        = decimal.NewFromInt(1)
)

// ComputeAll computes, for one base line, the exact monetary amount every
// applicable tax contributes, split across repartition lines, together with the
// document totals. The call is pure: it never mutates the line or its tax
// definitions and holds no state between invocations.
//
// Price-included taxes are peeled off the tax-inclusive price in a descending
// pass before price-excluded taxes are computed forward from the tax-exclusive
// base, with fixed taxes resolved first since their amount depends only on
// quantity.
func ComputeAll(line BaseLine) (*Result, error) {
	if err := Validate(line.Taxes); err != nil {
		return nil, err
	}

	leaves, groupsMap, err := Flatten(line.Taxes)
	if err != nil {
		return nil, err
	}
	for _, tax := range leaves {
		if tax.AmountKind == AmountKindDivision && tax.Rate.GreaterThanOrEqual(oneHundred) {
			return nil, fmt.Errorf("%w: tax %d has division rate %s", ErrDivisionRate, tax.ID, tax.Rate)
		}
	}

	currency := line.Currency
	quantity := line.Quantity
	priceUnit := line.PriceUnit.Mul(one.Sub(line.Discount.Div(oneHundred)))
	base := currency.Round(priceUnit.Mul(quantity))

	rate := line.Rate
	if rate.IsZero() {
		rate = one
	}
	fixedMultiplier := line.FixedMultiplier
	if fixedMultiplier.IsZero() {
		fixedMultiplier = one
	}

	sign := one
	if currency.IsZero(base) {
		if fixedMultiplier.Sign() < 0 {
			sign = sign.Neg()
		}
	} else if base.Sign() < 0 {
		sign = sign.Neg()
		base = base.Neg()
	}

	computations := make([]*taxComputation, 0, len(leaves))
	for _, tax := range leaves {
		repartition := tax.InvoiceRepartition
		if line.IsRefund {
			repartition = tax.RefundRepartition
		}

		tc := &taxComputation{
			tax:           tax,
			priceIncluded: line.HandlePriceIncluded && (tax.PriceIncluded || line.ForcePriceIncluded),
			factor:        decimal.Zero,
		}
		for _, rl := range repartition {
			if rl.Kind != RepartitionKindTax {
				continue
			}
			tc.repartitionLines = append(tc.repartitionLines, rl)
			tc.factor = tc.factor.Add(rl.Factor)
		}
		computations = append(computations, tc)
	}

	batches := buildBatches(computations)

	// Ascending pre-pass: fixed taxes only. A price-excluded fixed tax can
	// inflate the base seen by a later price-included batch, so the carried
	// extra base must be known before the descending pass runs.
	extraBase := decimal.Zero
	for _, b := range batches {
		b.extraBase = extraBase
		if b.amountKind != AmountKindFixed {
			continue
		}
		absQuantity := quantity.Abs()
		absMultiplier := fixedMultiplier.Abs()
		for _, tc := range b.taxes {
			tc.taxAmount = absQuantity.Mul(tc.tax.Rate).Mul(absMultiplier)
			tc.taxAmountFactorized = currency.Round(tc.taxAmount.Mul(tc.factor))
		}
		if b.includeBaseAmount {
			extraBase = extraBase.Add(b.factorizedTotal())
		}
	}

	// Descending pass: peel price-included batches off the tax-inclusive base.
	for i := len(batches) - 1; i >= 0; i-- {
		b := batches[i]
		processPriceIncludedBatch(b, base.Add(b.extraBase), currency)
		if b.computed {
			base = base.Sub(b.factorizedTotal())
		}
	}

	totalExcluded := base

	// Ascending final pass: compute everything not yet computed, treating
	// already-computed batches as included in price by adding their amounts
	// back into the running base.
	for i, b := range batches {
		wasComputed := b.computed
		if wasComputed {
			base = base.Add(b.factorizedTotal())
		} else {
			processAscendingBatch(b, base, quantity, currency)
		}

		if b.includeBaseAmount {
			if !wasComputed {
				base = base.Add(b.factorizedTotal())
			}
			for _, next := range batches[i+1:] {
				for _, nextTC := range next.taxes {
					for _, tc := range b.taxes {
						tc.subsequent = append(tc.subsequent, nextTC.tax)
					}
				}
			}
		}
	}

	for _, tc := range computations {
		tc.taxAmount = tc.taxAmount.Mul(sign)
		tc.taxAmountFactorized = tc.taxAmountFactorized.Mul(sign)
		tc.base = tc.base.Mul(sign)
		tc.displayBase = tc.displayBase.Mul(sign)
	}
	totalExcluded = totalExcluded.Mul(sign)

	return buildResult(line, computations, groupsMap, totalExcluded, rate, currency)
}

// processPriceIncludedBatch resolves one price-included batch against the
// running tax-inclusive base, marking the batch computed.
func processPriceIncludedBatch(b *batch, base decimal.Decimal, currency Currency) {
	if !b.priceIncluded {
		return
	}

	switch b.amountKind {
	case AmountKindPercent:
		b.computed = true
		totalRate := decimal.Zero
		for _, tc := range b.taxes {
			totalRate = totalRate.Add(tc.tax.Rate.Mul(tc.factor))
		}
		totalRate = totalRate.Div(oneHundred)

		computationBase := base.Div(one.Add(totalRate))
		for _, tc := range b.taxes {
			tc.taxAmount = computationBase.Mul(tc.tax.Rate).Div(oneHundred)
			tc.taxAmountFactorized = currency.Round(tc.taxAmount.Mul(tc.factor))
		}

		batchBase := base.Sub(b.factorizedTotal())
		for _, tc := range b.taxes {
			tc.base = batchBase
			tc.displayBase = batchBase
		}

	case AmountKindDivision:
		b.computed = true
		for _, tc := range b.taxes {
			notFactorized := base.Mul(one.Sub(tc.tax.Rate.Mul(tc.factor).Div(oneHundred)))
			tc.taxAmount = base.Sub(notFactorized)
			tc.taxAmountFactorized = currency.Round(tc.taxAmount.Mul(tc.factor))
			tc.displayBase = base
			tc.base = base.Sub(tc.taxAmountFactorized)
		}

	case AmountKindFixed:
		// Amounts were already resolved by the fixed pre-pass; only the base
		// remains to be assigned.
		b.computed = true
		batchBase := base.Sub(b.factorizedTotal())
		for _, tc := range b.taxes {
			tc.base = batchBase
			tc.displayBase = batchBase
		}
	}
}

// processAscendingBatch resolves a price-excluded batch forward from the
// running tax-exclusive base.
func processAscendingBatch(b *batch, base, quantity decimal.Decimal, currency Currency) {
	if b.priceIncluded {
		return
	}

	switch b.amountKind {
	case AmountKindPercent:
		b.computed = true
		for _, tc := range b.taxes {
			tc.taxAmount = base.Mul(tc.tax.Rate).Div(oneHundred)
			tc.taxAmountFactorized = currency.Round(tc.taxAmount.Mul(tc.factor))
			tc.base = base
			tc.displayBase = base
		}

	case AmountKindDivision:
		b.computed = true
		for _, tc := range b.taxes {
			baseTaxIncluded := base.Div(one.Sub(tc.tax.Rate.Div(oneHundred)))
			tc.taxAmount = baseTaxIncluded.Sub(base)
			tc.taxAmountFactorized = currency.Round(tc.taxAmount.Mul(tc.factor))
			tc.base = base
			tc.displayBase = base
		}

	case AmountKindFixed:
		b.computed = true
		absQuantity := quantity.Abs()
		for _, tc := range b.taxes {
			tc.taxAmount = absQuantity.Mul(tc.tax.Rate)
			tc.taxAmountFactorized = currency.Round(tc.taxAmount.Mul(tc.factor))
			tc.base = base
			tc.displayBase = base
		}
	}
}

// buildResult splits each computed tax amount across its repartition lines,
// reconciling rounding so the per-line amounts sum exactly to the rounded tax
// total, then assembles the document totals and tag sets.
func buildResult(
	line BaseLine,
	computations []*taxComputation,
	groupsMap map[snowflake.ID]*Definition,
	totalExcluded decimal.Decimal,
	rate decimal.Decimal,
	currency Currency,
) (*Result, error) {
	totalIncluded := totalExcluded
	totalVoid := decimal.Zero
	roundingAdjustments := 0

	details := make([]Detail, 0, len(computations))
	var baseTags []snowflake.ID
	seenBaseTags := make(map[snowflake.ID]bool)

	for _, tc := range computations {
		lineAmounts, adjusted := distributeRounding(tc.taxAmount, tc.taxAmountFactorized, tc.repartitionLines, currency)
		roundingAdjustments += adjusted

		subsequentIDs := make([]snowflake.ID, 0, len(tc.subsequent))
		for _, next := range tc.subsequent {
			subsequentIDs = append(subsequentIDs, next.ID)
		}
		subsequentTags := collectBaseTags(tc.subsequent, line.IsRefund)

		var groupID snowflake.ID
		if owner := groupsMap[tc.tax.ID]; owner != nil {
			groupID = owner.ID
		}

		for i, rl := range tc.repartitionLines {
			amount := lineAmounts[i]

			tags := make([]snowflake.ID, 0, len(rl.TagIDs)+len(subsequentTags))
			tags = append(tags, rl.TagIDs...)
			tags = append(tags, subsequentTags...)

			details = append(details, Detail{
				TaxID:              tc.tax.ID,
				Name:               tc.tax.Name,
				Sequence:           tc.tax.Sequence,
				AmountKind:         tc.tax.AmountKind,
				PriceIncluded:      tc.priceIncluded,
				GroupID:            groupID,
				TaxGroup:           resolveTaxGroup(tc.tax, groupsMap),
				RepartitionLineID:  rl.ID,
				AccountID:          rl.AccountID,
				TagIDs:             tags,
				SubsequentTaxIDs:   subsequentIDs,
				BaseAmount:         tc.base,
				BaseAmountCompany:  tc.base.Div(rate),
				DisplayBase:        tc.displayBase,
				DisplayBaseCompany: tc.displayBase.Div(rate),
				TaxAmount:          amount,
				TaxAmountCompany:   amount.Div(rate),
			})

			if rl.AccountID == 0 {
				totalVoid = totalVoid.Add(amount)
			}
			totalIncluded = totalIncluded.Add(amount)
		}

		for _, tag := range baseRepartitionTags(tc.tax, line.IsRefund) {
			if !seenBaseTags[tag] {
				seenBaseTags[tag] = true
				baseTags = append(baseTags, tag)
			}
		}
	}

	return &Result{
		TotalExcluded:       currency.Round(totalExcluded),
		TotalIncluded:       currency.Round(totalIncluded),
		TotalVoid:           currency.Round(totalVoid),
		RoundingAdjustments: roundingAdjustments,
		BaseTags:            baseTags,
		Details:             details,
	}, nil
}

// resolveTaxGroup returns the display group for a leaf: its own, else its
// owning group-kind tax's, else a group derived from the tax itself.
func resolveTaxGroup(tax *Definition, groupsMap map[snowflake.ID]*Definition) TaxGroup {
	if tax.TaxGroup != nil {
		return *tax.TaxGroup
	}
	if owner := groupsMap[tax.ID]; owner != nil {
		if owner.TaxGroup != nil {
			return *owner.TaxGroup
		}
		return TaxGroup{ID: owner.ID, Name: owner.Name, Sequence: owner.Sequence}
	}
	return TaxGroup{ID: tax.ID, Name: tax.Name, Sequence: tax.Sequence}
}

// baseRepartitionTags returns the tags of a tax's base-kind repartition lines
// for the active document type.
func baseRepartitionTags(tax *Definition, isRefund bool) []snowflake.ID {
	repartition := tax.InvoiceRepartition
	if isRefund {
		repartition = tax.RefundRepartition
	}
	var tags []snowflake.ID
	for _, rl := range repartition {
		if rl.Kind == RepartitionKindBase {
			tags = append(tags, rl.TagIDs...)
		}
	}
	return tags
}

func collectBaseTags(taxes []*Definition, isRefund bool) []snowflake.ID {
	var tags []snowflake.ID
	seen := make(map[snowflake.ID]bool)
	for _, tax := range taxes {
		for _, tag := range baseRepartitionTags(tax, isRefund) {
			if !seen[tag] {
				seen[tag] = true
				tags = append(tags, tag)
			}
		}
	}
	return tags
}
