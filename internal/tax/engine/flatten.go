package engine

import (
	"fmt"
	"sort"

	"github.com/bwmarrin/snowflake"
)

// Flatten expands group-kind taxes into an ordered list of leaf definitions.
// Taxes are visited in ascending sequence and group children are spliced in
// place, so the relative order of a group's leaf descendants is preserved. The
// input slice is never mutated. The returned map records the owning group of
// every leaf that came out of one.
//
// A group containing itself, directly or transitively, is a fatal
// configuration error.
func Flatten(taxes []*Definition) ([]*Definition, map[snowflake.ID]*Definition, error) {
	groups := make(map[snowflake.ID]*Definition)
	visiting := make(map[snowflake.ID]bool)

	leaves, err := flattenInto(nil, taxes, nil, groups, visiting)
	if err != nil {
		return nil, nil, err
	}
	return leaves, groups, nil
}

func flattenInto(
	dst []*Definition,
	taxes []*Definition,
	owner *Definition,
	groups map[snowflake.ID]*Definition,
	visiting map[snowflake.ID]bool,
) ([]*Definition, error) {
	ordered := sortedBySequence(taxes)

	for _, tax := range ordered {
		if tax.AmountKind != AmountKindGroup {
			dst = append(dst, tax)
			if owner != nil {
				groups[tax.ID] = owner
			}
			continue
		}

		if visiting[tax.ID] {
			return nil, fmt.Errorf("%w: tax group %d contains itself", ErrTaxCycle, tax.ID)
		}
		visiting[tax.ID] = true

		var err error
		dst, err = flattenInto(dst, tax.Children, tax, groups, visiting)
		if err != nil {
			return nil, err
		}

		delete(visiting, tax.ID)
	}

	return dst, nil
}

// sortedBySequence returns a stable copy ordered by ascending sequence,
// leaving the caller's slice untouched.
func sortedBySequence(taxes []*Definition) []*Definition {
	ordered := make([]*Definition, len(taxes))
	copy(ordered, taxes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Sequence < ordered[j].Sequence
	})
	return ordered
}

// Validate checks the repartition invariants of a definition tree: a non-group
// tax needs exactly one base line and at least one tax line per document type,
// and invoice/refund lines must match in count, kind and factor, in order.
func Validate(taxes []*Definition) error {
	visiting := make(map[snowflake.ID]bool)
	return validateAll(taxes, visiting)
}

func validateAll(taxes []*Definition, visiting map[snowflake.ID]bool) error {
	for _, tax := range taxes {
		if tax.AmountKind == AmountKindGroup {
			if visiting[tax.ID] {
				return fmt.Errorf("%w: tax group %d contains itself", ErrTaxCycle, tax.ID)
			}
			visiting[tax.ID] = true
			if err := validateAll(tax.Children, visiting); err != nil {
				return err
			}
			delete(visiting, tax.ID)
			continue
		}

		switch tax.AmountKind {
		case AmountKindFixed, AmountKindPercent, AmountKindDivision:
		default:
			return fmt.Errorf("%w: tax %d has kind %q", ErrInvalidAmountKind, tax.ID, tax.AmountKind)
		}

		if err := validateRepartition(tax.ID, tax.InvoiceRepartition); err != nil {
			return err
		}
		if err := validateRepartition(tax.ID, tax.RefundRepartition); err != nil {
			return err
		}
		if err := validateSymmetry(tax.ID, tax.InvoiceRepartition, tax.RefundRepartition); err != nil {
			return err
		}
	}
	return nil
}

func validateRepartition(taxID snowflake.ID, lines []RepartitionLine) error {
	baseCount := 0
	taxCount := 0
	for _, line := range lines {
		switch line.Kind {
		case RepartitionKindBase:
			baseCount++
		case RepartitionKindTax:
			taxCount++
		default:
			return fmt.Errorf("%w: tax %d has repartition kind %q", ErrInvalidRepartition, taxID, line.Kind)
		}
	}
	if baseCount != 1 {
		return fmt.Errorf("%w: tax %d needs exactly one base repartition line, got %d", ErrInvalidRepartition, taxID, baseCount)
	}
	if taxCount < 1 {
		return fmt.Errorf("%w: tax %d needs at least one tax repartition line", ErrInvalidRepartition, taxID)
	}
	return nil
}

func validateSymmetry(taxID snowflake.ID, invoice, refund []RepartitionLine) error {
	if len(invoice) != len(refund) {
		return fmt.Errorf("%w: tax %d has %d invoice lines but %d refund lines", ErrRepartitionMismatch, taxID, len(invoice), len(refund))
	}
	for i := range invoice {
		if invoice[i].Kind != refund[i].Kind {
			return fmt.Errorf("%w: tax %d line %d kind differs between invoice and refund", ErrRepartitionMismatch, taxID, i)
		}
		if !invoice[i].Factor.Equal(refund[i].Factor) {
			return fmt.Errorf("%w: tax %d line %d factor differs between invoice and refund", ErrRepartitionMismatch, taxID, i)
		}
	}
	return nil
}
