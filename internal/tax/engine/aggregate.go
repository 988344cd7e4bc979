package engine

import (
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// GroupingKey identifies an accounting line produced from tax details. It is a
// comparable value type so it can key maps directly.
type GroupingKey struct {
	TaxID     snowflake.ID
	AccountID snowflake.ID
	Currency  string
}

// KeyFunc derives a grouping key from a tax detail. The currency code of the
// processed line is supplied so keys stay distinct across currencies.
type KeyFunc func(detail Detail, currency string) GroupingKey

// DefaultGroupingKey groups by tax and destination account, the granularity at
// which accounting lines are materialized.
func DefaultGroupingKey(detail Detail, currency string) GroupingKey {
	return GroupingKey{TaxID: detail.TaxID, AccountID: detail.AccountID, Currency: currency}
}

// SourceLine couples a document record with the tax details computed for it.
type SourceLine struct {
	RecordID snowflake.ID
	Currency Currency
	Details  []Detail
}

// GroupTotals is the running sum for one grouping key, with the contributing
// details kept for traceability.
type GroupTotals struct {
	Key GroupingKey

	BaseAmount         decimal.Decimal
	BaseAmountCompany  decimal.Decimal
	DisplayBase        decimal.Decimal
	DisplayBaseCompany decimal.Decimal
	TaxAmount          decimal.Decimal
	TaxAmountCompany   decimal.Decimal

	RecordIDs []snowflake.ID
	Details   []Detail
}

// RecordTotals is the per-document-record breakdown.
type RecordTotals struct {
	RecordID snowflake.ID

	BaseAmount        decimal.Decimal
	BaseAmountCompany decimal.Decimal
	TaxAmount         decimal.Decimal
	TaxAmountCompany  decimal.Decimal

	Groups []*GroupTotals
}

// Aggregate is the outcome of folding tax details over all source lines.
type Aggregate struct {
	BaseAmount        decimal.Decimal
	BaseAmountCompany decimal.Decimal
	TaxAmount         decimal.Decimal
	TaxAmountCompany  decimal.Decimal

	// Groups are in first-seen order so output is deterministic.
	Groups    []*GroupTotals
	PerRecord []*RecordTotals

	companyRounding decimal.Decimal
}

// AggregateDetails folds the details of every source line into running sums
// per grouping key and per record. The base is counted once per record for the
// global totals and once per (record, key) pair for the group totals, so a tax
// applied through several repartition lines does not inflate its base.
func AggregateDetails(lines []SourceLine, companyRounding decimal.Decimal, keyFn KeyFunc) *Aggregate {
	if keyFn == nil {
		keyFn = DefaultGroupingKey
	}

	agg := &Aggregate{companyRounding: companyRounding}
	groupIndex := make(map[GroupingKey]*GroupTotals)

	for _, line := range lines {
		record := &RecordTotals{RecordID: line.RecordID}
		recordGroups := make(map[GroupingKey]bool)
		baseAdded := false

		for _, detail := range line.Details {
			key := keyFn(detail, line.Currency.Code)

			baseAmount := line.Currency.Round(detail.BaseAmount)
			baseCompany := roundToIncrement(detail.BaseAmountCompany, companyRounding)
			displayBase := line.Currency.Round(detail.DisplayBase)
			displayCompany := roundToIncrement(detail.DisplayBaseCompany, companyRounding)

			if !baseAdded {
				baseAdded = true
				agg.BaseAmount = agg.BaseAmount.Add(baseAmount)
				agg.BaseAmountCompany = agg.BaseAmountCompany.Add(baseCompany)
				record.BaseAmount = record.BaseAmount.Add(baseAmount)
				record.BaseAmountCompany = record.BaseAmountCompany.Add(baseCompany)
			}

			group, ok := groupIndex[key]
			if !ok {
				group = &GroupTotals{Key: key}
				groupIndex[key] = group
				agg.Groups = append(agg.Groups, group)
			}
			if !recordGroups[key] {
				recordGroups[key] = true
				group.BaseAmount = group.BaseAmount.Add(baseAmount)
				group.BaseAmountCompany = group.BaseAmountCompany.Add(baseCompany)
				group.DisplayBase = group.DisplayBase.Add(displayBase)
				group.DisplayBaseCompany = group.DisplayBaseCompany.Add(displayCompany)
				group.RecordIDs = append(group.RecordIDs, line.RecordID)
				record.Groups = append(record.Groups, group)
			}

			group.TaxAmount = group.TaxAmount.Add(detail.TaxAmount)
			group.TaxAmountCompany = group.TaxAmountCompany.Add(detail.TaxAmountCompany)
			group.Details = append(group.Details, detail)

			agg.TaxAmount = agg.TaxAmount.Add(detail.TaxAmount)
			agg.TaxAmountCompany = agg.TaxAmountCompany.Add(detail.TaxAmountCompany)
			record.TaxAmount = record.TaxAmount.Add(detail.TaxAmount)
			record.TaxAmountCompany = record.TaxAmountCompany.Add(detail.TaxAmountCompany)
		}

		agg.PerRecord = append(agg.PerRecord, record)
	}

	// Round the accumulated tax sums once at the end.
	for _, g := range agg.Groups {
		g.TaxAmount = roundToIncrement(g.TaxAmount, roundingForCurrency(lines, g.Key.Currency))
		g.TaxAmountCompany = roundToIncrement(g.TaxAmountCompany, companyRounding)
	}
	agg.TaxAmountCompany = roundToIncrement(agg.TaxAmountCompany, companyRounding)

	return agg
}

func roundingForCurrency(lines []SourceLine, code string) decimal.Decimal {
	for _, line := range lines {
		if line.Currency.Code == code {
			return line.Currency.Rounding
		}
	}
	return decimal.Zero
}

// ExistingLine is a pre-existing accounting line to reconcile against.
type ExistingLine struct {
	ID        snowflake.ID
	Key       GroupingKey
	TaxAmount decimal.Decimal
}

// LineUpdate pairs an existing accounting line with the totals it should carry.
type LineUpdate struct {
	Existing ExistingLine
	Target   *GroupTotals
}

// LineDiff classifies the reconciliation outcome against existing lines.
type LineDiff struct {
	ToCreate []*GroupTotals
	ToUpdate []LineUpdate
	ToDelete []ExistingLine
}

// Diff reconciles the aggregate against existing accounting lines sharing the
// same keys: new keys create lines, matching keys with a different amount
// update them, and stale or duplicate lines are deleted (one survivor per
// duplicated key).
func (a *Aggregate) Diff(existing []ExistingLine) LineDiff {
	var diff LineDiff

	existingByKey := make(map[GroupingKey]ExistingLine)
	for _, line := range existing {
		if _, dup := existingByKey[line.Key]; dup {
			diff.ToDelete = append(diff.ToDelete, line)
			continue
		}
		existingByKey[line.Key] = line
	}

	for _, group := range a.Groups {
		line, ok := existingByKey[group.Key]
		if !ok {
			diff.ToCreate = append(diff.ToCreate, group)
			continue
		}
		delete(existingByKey, group.Key)
		if !line.TaxAmount.Equal(group.TaxAmount) {
			diff.ToUpdate = append(diff.ToUpdate, LineUpdate{Existing: line, Target: group})
		}
	}

	// Whatever keys remain are no longer produced. Keep the caller's order.
	for _, line := range existing {
		if kept, ok := existingByKey[line.Key]; ok && kept.ID == line.ID {
			diff.ToDelete = append(diff.ToDelete, line)
			delete(existingByKey, line.Key)
		}
	}

	return diff
}
