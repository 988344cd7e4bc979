package engine

import "github.com/shopspring/decimal"

// taxComputation is the per-leaf working record threaded through the passes.
type taxComputation struct {
	tax           *Definition
	priceIncluded bool

	// repartitionLines holds only the tax-kind lines of the active document
	// type; factor is their summed factor.
	repartitionLines []RepartitionLine
	factor           decimal.Decimal

	taxAmount           decimal.Decimal
	taxAmountFactorized decimal.Decimal
	base                decimal.Decimal
	displayBase         decimal.Decimal

	// subsequent lists the higher-sequence taxes whose base absorbs this tax's
	// amount via include_base_amount.
	subsequent []*Definition
}

type batchKey struct {
	amountKind    AmountKind
	priceIncluded bool
}

// batch is a maximal run of consecutive taxes sharing the same amount kind and
// price-inclusion mode, computed together in one step.
type batch struct {
	key               batchKey
	amountKind        AmountKind
	priceIncluded     bool
	includeBaseAmount bool
	taxes             []*taxComputation

	computed  bool
	extraBase decimal.Decimal
}

func (b *batch) factorizedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, tc := range b.taxes {
		total = total.Add(tc.taxAmountFactorized)
	}
	return total
}

// buildBatches partitions the flattened leaf list into computation batches.
// Leaves are walked in descending sequence; a new batch starts when the amount
// kind or inclusion mode changes, or when a tax with include_base_amount meets
// an already-placed lower-sequence tax that accepts base effects. The taxes of
// each batch and the batch list itself are reversed back to ascending order
// before returning, so callers see natural application order.
func buildBatches(computations []*taxComputation) []*batch {
	var batches []*batch

	appendBatch := func(b *batch) {
		reverseTaxes(b.taxes)
		batches = append(batches, b)
	}

	var current *batch
	baseAffected := false
	for i := len(computations) - 1; i >= 0; i-- {
		tc := computations[i]
		key := batchKey{amountKind: tc.tax.AmountKind, priceIncluded: tc.priceIncluded}

		if current != nil {
			forceNew := tc.tax.IncludeBaseAmount && baseAffected
			if current.key != key || forceNew {
				appendBatch(current)
				current = nil
			}
		}

		if current == nil {
			current = &batch{
				key:               key,
				amountKind:        tc.tax.AmountKind,
				priceIncluded:     tc.priceIncluded,
				includeBaseAmount: tc.tax.IncludeBaseAmount,
			}
		}

		baseAffected = tc.tax.IsBaseAffected
		current.taxes = append(current.taxes, tc)
	}
	if current != nil {
		appendBatch(current)
	}

	reverseBatches(batches)
	return batches
}

func reverseTaxes(taxes []*taxComputation) {
	for i, j := 0, len(taxes)-1; i < j; i, j = i+1, j-1 {
		taxes[i], taxes[j] = taxes[j], taxes[i]
	}
}

func reverseBatches(batches []*batch) {
	for i, j := 0, len(batches)-1; i < j; i, j = i+1, j-1 {
		batches[i], batches[j] = batches[j], batches[i]
	}
}
