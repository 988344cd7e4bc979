package engine

import "github.com/shopspring/decimal"

// distributeRounding splits a tax amount across its repartition lines so the
// per-line amounts sum exactly to the rounded tax total. Each line starts from
// its independently rounded share; the residual error is spread one rounding
// increment at a time over the earliest lines instead of accumulating on a
// single one. The adjustment never flips the sign of a line amount because the
// error is bounded by one increment per line times the line count.
//
// A currency with a zero rounding increment has no distributable error: the
// raw shares pass through as computed. If the error spans more increments than
// there are lines, the remainder lands on the last line rather than being
// dropped.
//
// The second return value counts the lines whose amount was nudged.
func distributeRounding(
	taxAmount decimal.Decimal,
	taxAmountFactorized decimal.Decimal,
	lines []RepartitionLine,
	currency Currency,
) ([]decimal.Decimal, int) {
	amounts := make([]decimal.Decimal, len(lines))
	for i, rl := range lines {
		amounts[i] = currency.Round(taxAmount.Mul(rl.Factor))
	}
	if len(amounts) == 0 || currency.Rounding.Sign() <= 0 {
		return amounts, 0
	}

	total := decimal.Zero
	for _, amount := range amounts {
		total = total.Add(amount)
	}
	totalError := currency.Round(taxAmountFactorized.Sub(total))
	if totalError.IsZero() {
		return amounts, 0
	}

	steps := totalError.Abs().Div(currency.Rounding).IntPart()
	if steps == 0 {
		return amounts, 0
	}
	increment := currency.Round(totalError.Div(decimal.NewFromInt(steps)))

	adjusted := 0
	distributed := decimal.Zero
	for i := range amounts {
		if steps == 0 {
			break
		}
		amounts[i] = amounts[i].Add(increment)
		distributed = distributed.Add(increment)
		adjusted++
		steps--
	}

	// More increments of error than lines to absorb them: assign the
	// remainder to the last line.
	if steps > 0 {
		remainder := totalError.Sub(distributed)
		amounts[len(amounts)-1] = amounts[len(amounts)-1].Add(remainder)
	}

	return amounts, adjusted
}
