package engine

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatten_LeavesOnly(t *testing.T) {
	a := percentTax(1, 2, "10")
	b := percentTax(2, 1, "5")

	leaves, groups, err := Flatten([]*Definition{a, b})
	require.NoError(t, err)

	require.Len(t, leaves, 2)
	assert.Equal(t, snowflake.ID(2), leaves[0].ID)
	assert.Equal(t, snowflake.ID(1), leaves[1].ID)
	assert.Empty(t, groups)
}

func TestFlatten_GroupSplicedInSequenceOrder(t *testing.T) {
	a := percentTax(1, 1, "10")
	a.Name = "A"
	b := percentTax(2, 2, "5")
	b.Name = "B"
	c := percentTax(3, 5, "2")
	c.Name = "C"

	group := &Definition{
		ID:         9,
		Name:       "G",
		Sequence:   1,
		AmountKind: AmountKindGroup,
		Children:   []*Definition{b, a},
	}

	leaves, groups, err := Flatten([]*Definition{c, group})
	require.NoError(t, err)

	names := make([]string, 0, len(leaves))
	for _, leaf := range leaves {
		names = append(names, leaf.Name)
	}
	assert.Equal(t, []string{"A", "B", "C"}, names)

	assert.Equal(t, group, groups[a.ID])
	assert.Equal(t, group, groups[b.ID])
	assert.Nil(t, groups[c.ID])
}

func TestFlatten_NestedGroups(t *testing.T) {
	leaf := percentTax(1, 1, "10")
	inner := &Definition{
		ID:         8,
		Sequence:   1,
		AmountKind: AmountKindGroup,
		Children:   []*Definition{leaf},
	}
	outer := &Definition{
		ID:         9,
		Sequence:   1,
		AmountKind: AmountKindGroup,
		Children:   []*Definition{inner},
	}

	leaves, groups, err := Flatten([]*Definition{outer})
	require.NoError(t, err)

	require.Len(t, leaves, 1)
	// The immediate owner wins.
	assert.Equal(t, inner, groups[leaf.ID])
}

func TestFlatten_SelfCycle(t *testing.T) {
	group := &Definition{ID: 9, Sequence: 1, AmountKind: AmountKindGroup}
	group.Children = []*Definition{group}

	_, _, err := Flatten([]*Definition{group})
	assert.ErrorIs(t, err, ErrTaxCycle)
}

func TestFlatten_TransitiveCycle(t *testing.T) {
	a := &Definition{ID: 1, Sequence: 1, AmountKind: AmountKindGroup}
	b := &Definition{ID: 2, Sequence: 1, AmountKind: AmountKindGroup}
	a.Children = []*Definition{b}
	b.Children = []*Definition{a}

	_, _, err := Flatten([]*Definition{a})
	assert.ErrorIs(t, err, ErrTaxCycle)
}

func TestFlatten_DoesNotMutateInput(t *testing.T) {
	a := percentTax(1, 2, "10")
	b := percentTax(2, 1, "5")
	input := []*Definition{a, b}

	_, _, err := Flatten(input)
	require.NoError(t, err)

	assert.Equal(t, snowflake.ID(1), input[0].ID)
	assert.Equal(t, snowflake.ID(2), input[1].ID)
}

func TestValidate_UnknownAmountKind(t *testing.T) {
	tax := percentTax(1, 1, "10")
	tax.AmountKind = AmountKind("ratio")

	err := Validate([]*Definition{tax})
	assert.ErrorIs(t, err, ErrInvalidAmountKind)
}

func TestValidate_MissingBaseLine(t *testing.T) {
	tax := percentTax(1, 1, "10")
	tax.InvoiceRepartition = []RepartitionLine{
		{ID: 101, Kind: RepartitionKindTax, Factor: d("1")},
	}
	tax.RefundRepartition = tax.InvoiceRepartition

	err := Validate([]*Definition{tax})
	assert.ErrorIs(t, err, ErrInvalidRepartition)
}

func TestValidate_MissingTaxLine(t *testing.T) {
	tax := percentTax(1, 1, "10")
	tax.InvoiceRepartition = []RepartitionLine{
		{ID: 100, Kind: RepartitionKindBase, Factor: d("1")},
	}
	tax.RefundRepartition = tax.InvoiceRepartition

	err := Validate([]*Definition{tax})
	assert.ErrorIs(t, err, ErrInvalidRepartition)
}

func TestValidate_GroupChildrenChecked(t *testing.T) {
	bad := percentTax(1, 1, "10")
	bad.InvoiceRepartition = nil
	bad.RefundRepartition = nil

	group := &Definition{
		ID:         9,
		Sequence:   1,
		AmountKind: AmountKindGroup,
		Children:   []*Definition{bad},
	}

	err := Validate([]*Definition{group})
	assert.ErrorIs(t, err, ErrInvalidRepartition)
}
