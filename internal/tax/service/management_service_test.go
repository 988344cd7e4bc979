package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/taxline/internal/orgcontext"
	taxdomain "github.com/smallbiznis/taxline/internal/tax/domain"
	"github.com/smallbiznis/taxline/internal/tax/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNode = func() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}()

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&taxdomain.TaxDefinition{},
		&taxdomain.TaxRepartitionLine{},
		&taxdomain.TaxGroup{},
	))
	return db
}

func newTestService(t *testing.T) (taxdomain.Service, *gorm.DB, context.Context) {
	t.Helper()

	db := newTestDB(t)
	svc := NewService(ServiceParams{
		Log:   zap.NewNop(),
		GenID: testNode,
		Repo:  repository.NewRepository(db),
	})
	// Each test gets its own org so the shared in-memory DB stays isolated.
	ctx := orgcontext.WithOrgID(context.Background(), int64(testNode.Generate()))
	return svc, db, ctx
}

func standardRepartition() []taxdomain.RepartitionLineRequest {
	one := decimal.NewFromInt(1)
	return []taxdomain.RepartitionLineRequest{
		{DocumentType: taxdomain.DocumentInvoice, Kind: taxdomain.RepartitionBase, Factor: one},
		{DocumentType: taxdomain.DocumentInvoice, Kind: taxdomain.RepartitionTax, Factor: one},
		{DocumentType: taxdomain.DocumentRefund, Kind: taxdomain.RepartitionBase, Factor: one},
		{DocumentType: taxdomain.DocumentRefund, Kind: taxdomain.RepartitionTax, Factor: one},
	}
}

func TestCreate_PercentTax(t *testing.T) {
	svc, _, ctx := newTestService(t)

	resp, err := svc.Create(ctx, taxdomain.CreateRequest{
		Name:             "VAT 10%",
		AmountKind:       "Percent",
		Rate:             decimal.NewFromInt(10),
		RepartitionLines: standardRepartition(),
	})
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, "VAT 10%", resp.Name)
	assert.Equal(t, taxdomain.AmountKindPercent, resp.AmountKind)
	assert.Equal(t, 1, resp.Sequence)
	assert.True(t, resp.IsBaseAffected)
	assert.True(t, resp.Active)
	assert.Len(t, resp.RepartitionLines, 4)

	_, err = snowflake.ParseString(resp.ID)
	assert.NoError(t, err)

	stored, err := svc.Get(ctx, resp.ID)
	require.NoError(t, err)
	assert.True(t, stored.Rate.Equal(decimal.NewFromInt(10)))
	assert.Len(t, stored.RepartitionLines, 4)
}

func TestCreate_GroupTax(t *testing.T) {
	svc, _, ctx := newTestService(t)

	child, err := svc.Create(ctx, taxdomain.CreateRequest{
		Name:             "Child 5%",
		AmountKind:       taxdomain.AmountKindPercent,
		Rate:             decimal.NewFromInt(5),
		RepartitionLines: standardRepartition(),
	})
	require.NoError(t, err)

	group, err := svc.Create(ctx, taxdomain.CreateRequest{
		Name:       "Combined",
		AmountKind: taxdomain.AmountKindGroup,
		ChildIDs:   []string{child.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{child.ID}, group.ChildIDs)
	assert.Empty(t, group.RepartitionLines)
}

func TestCreate_Validation(t *testing.T) {
	svc, _, ctx := newTestService(t)

	leaf, err := svc.Create(ctx, taxdomain.CreateRequest{
		Name:             "Leaf",
		AmountKind:       taxdomain.AmountKindPercent,
		Rate:             decimal.NewFromInt(10),
		RepartitionLines: standardRepartition(),
	})
	require.NoError(t, err)

	tests := []struct {
		name        string
		req         taxdomain.CreateRequest
		expectedErr error
	}{
		{
			name:        "blank name",
			req:         taxdomain.CreateRequest{Name: "  ", AmountKind: taxdomain.AmountKindPercent, RepartitionLines: standardRepartition()},
			expectedErr: taxdomain.ErrInvalidName,
		},
		{
			name:        "unknown amount kind",
			req:         taxdomain.CreateRequest{Name: "Flat", AmountKind: "flat", RepartitionLines: standardRepartition()},
			expectedErr: taxdomain.ErrInvalidAmountKind,
		},
		{
			name: "group carrying repartition lines",
			req: taxdomain.CreateRequest{
				Name:             "Group",
				AmountKind:       taxdomain.AmountKindGroup,
				ChildIDs:         []string{leaf.ID},
				RepartitionLines: standardRepartition(),
			},
			expectedErr: taxdomain.ErrGroupWithRepartition,
		},
		{
			name: "leaf carrying children",
			req: taxdomain.CreateRequest{
				Name:             "Leaf with children",
				AmountKind:       taxdomain.AmountKindPercent,
				Rate:             decimal.NewFromInt(10),
				ChildIDs:         []string{leaf.ID},
				RepartitionLines: standardRepartition(),
			},
			expectedErr: taxdomain.ErrChildrenOnLeaf,
		},
		{
			name: "group referencing missing child",
			req: taxdomain.CreateRequest{
				Name:       "Dangling group",
				AmountKind: taxdomain.AmountKindGroup,
				ChildIDs:   []string{testNode.Generate().String()},
			},
			expectedErr: taxdomain.ErrUnknownChild,
		},
		{
			name: "division rate at 100",
			req: taxdomain.CreateRequest{
				Name:             "Division",
				AmountKind:       taxdomain.AmountKindDivision,
				Rate:             decimal.NewFromInt(100),
				RepartitionLines: standardRepartition(),
			},
			expectedErr: taxdomain.ErrInvalidTaxRate,
		},
		{
			name: "missing tax repartition line",
			req: taxdomain.CreateRequest{
				Name:       "No tax line",
				AmountKind: taxdomain.AmountKindPercent,
				Rate:       decimal.NewFromInt(10),
				RepartitionLines: []taxdomain.RepartitionLineRequest{
					{DocumentType: taxdomain.DocumentInvoice, Kind: taxdomain.RepartitionBase, Factor: decimal.NewFromInt(1)},
					{DocumentType: taxdomain.DocumentInvoice, Kind: taxdomain.RepartitionTax, Factor: decimal.NewFromInt(1)},
				},
			},
			expectedErr: taxdomain.ErrInvalidRepartition,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.req)
			assert.ErrorIs(t, err, tc.expectedErr)
		})
	}
}

func TestCreate_RequiresOrganization(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), taxdomain.CreateRequest{
		Name:             "VAT",
		AmountKind:       taxdomain.AmountKindPercent,
		Rate:             decimal.NewFromInt(10),
		RepartitionLines: standardRepartition(),
	})
	assert.ErrorIs(t, err, taxdomain.ErrInvalidOrganization)
}

func TestGet_NotFound(t *testing.T) {
	svc, _, ctx := newTestService(t)

	_, err := svc.Get(ctx, testNode.Generate().String())
	assert.ErrorIs(t, err, taxdomain.ErrNotFound)

	_, err = svc.Get(ctx, "not-an-id")
	assert.ErrorIs(t, err, taxdomain.ErrInvalidID)
}

func TestGet_ScopedToOrganization(t *testing.T) {
	svc, _, ctx := newTestService(t)

	created, err := svc.Create(ctx, taxdomain.CreateRequest{
		Name:             "VAT",
		AmountKind:       taxdomain.AmountKindPercent,
		Rate:             decimal.NewFromInt(10),
		RepartitionLines: standardRepartition(),
	})
	require.NoError(t, err)

	otherOrg := orgcontext.WithOrgID(context.Background(), int64(testNode.Generate()))
	_, err = svc.Get(otherOrg, created.ID)
	assert.ErrorIs(t, err, taxdomain.ErrNotFound)
}

func TestUpdate_TaxDefinition(t *testing.T) {
	svc, _, ctx := newTestService(t)

	created, err := svc.Create(ctx, taxdomain.CreateRequest{
		Name:             "VAT 10%",
		AmountKind:       taxdomain.AmountKindPercent,
		Rate:             decimal.NewFromInt(10),
		RepartitionLines: standardRepartition(),
	})
	require.NoError(t, err)

	name := "VAT 11%"
	rate := decimal.NewFromInt(11)
	updated, err := svc.Update(ctx, taxdomain.UpdateRequest{
		ID:   created.ID,
		Name: &name,
		Rate: &rate,
	})
	require.NoError(t, err)
	assert.Equal(t, "VAT 11%", updated.Name)
	assert.True(t, updated.Rate.Equal(rate))

	// Repartition lines survive a metadata update.
	stored, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, stored.RepartitionLines, 4)

	blank := "  "
	_, err = svc.Update(ctx, taxdomain.UpdateRequest{ID: created.ID, Name: &blank})
	assert.ErrorIs(t, err, taxdomain.ErrInvalidName)

	_, err = svc.Update(ctx, taxdomain.UpdateRequest{ID: testNode.Generate().String()})
	assert.ErrorIs(t, err, taxdomain.ErrNotFound)
}

func TestDisable_TaxDefinition(t *testing.T) {
	svc, _, ctx := newTestService(t)

	created, err := svc.Create(ctx, taxdomain.CreateRequest{
		Name:             "VAT",
		AmountKind:       taxdomain.AmountKindPercent,
		Rate:             decimal.NewFromInt(10),
		RepartitionLines: standardRepartition(),
	})
	require.NoError(t, err)
	require.True(t, created.Active)

	disabled, err := svc.Disable(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, disabled.Active)

	stored, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
}

func TestList_FiltersAndPagination(t *testing.T) {
	svc, db, ctx := newTestService(t)

	base := time.Now().UTC().Truncate(time.Second)
	names := []string{"Tax A", "Tax B", "Tax C", "Tax D", "Tax E"}
	for i, name := range names {
		created, err := svc.Create(ctx, taxdomain.CreateRequest{
			Name:             name,
			AmountKind:       taxdomain.AmountKindPercent,
			Rate:             decimal.NewFromInt(int64(i + 1)),
			RepartitionLines: standardRepartition(),
		})
		require.NoError(t, err)

		// Spread creation times so cursor ordering is deterministic.
		err = db.Model(&taxdomain.TaxDefinition{}).
			Where("id = ?", created.ID).
			Update("created_at", base.Add(time.Duration(i)*time.Minute)).Error
		require.NoError(t, err)
	}

	first, err := svc.List(ctx, taxdomain.ListRequest{
		PageSize: 2,
		SortBy:   "created_at",
		OrderBy:  "desc",
	})
	require.NoError(t, err)
	require.Len(t, first.Taxes, 2)
	assert.Equal(t, "Tax E", first.Taxes[0].Name)
	assert.Equal(t, "Tax D", first.Taxes[1].Name)
	assert.True(t, first.HasMore)
	require.NotEmpty(t, first.NextPageToken)

	second, err := svc.List(ctx, taxdomain.ListRequest{
		PageSize:  2,
		PageToken: first.NextPageToken,
	})
	require.NoError(t, err)
	require.Len(t, second.Taxes, 2)
	assert.Equal(t, "Tax C", second.Taxes[0].Name)
	assert.Equal(t, "Tax B", second.Taxes[1].Name)
	assert.True(t, second.HasMore)

	byName, err := svc.List(ctx, taxdomain.ListRequest{Name: "Tax C"})
	require.NoError(t, err)
	require.Len(t, byName.Taxes, 1)
	assert.Equal(t, "Tax C", byName.Taxes[0].Name)
	assert.False(t, byName.HasMore)

	byKind, err := svc.List(ctx, taxdomain.ListRequest{AmountKind: "PERCENT"})
	require.NoError(t, err)
	assert.Len(t, byKind.Taxes, 5)
}

func TestList_ActiveFilter(t *testing.T) {
	svc, _, ctx := newTestService(t)

	kept, err := svc.Create(ctx, taxdomain.CreateRequest{
		Name:             "Kept",
		AmountKind:       taxdomain.AmountKindPercent,
		Rate:             decimal.NewFromInt(10),
		RepartitionLines: standardRepartition(),
	})
	require.NoError(t, err)

	dropped, err := svc.Create(ctx, taxdomain.CreateRequest{
		Name:             "Dropped",
		AmountKind:       taxdomain.AmountKindPercent,
		Rate:             decimal.NewFromInt(5),
		RepartitionLines: standardRepartition(),
	})
	require.NoError(t, err)

	_, err = svc.Disable(ctx, dropped.ID)
	require.NoError(t, err)

	active := true
	resp, err := svc.List(ctx, taxdomain.ListRequest{Active: &active})
	require.NoError(t, err)
	require.Len(t, resp.Taxes, 1)
	assert.Equal(t, kept.ID, resp.Taxes[0].ID)
}

func TestGroups_CreateAndList(t *testing.T) {
	svc, _, ctx := newTestService(t)

	sequence := 2
	vat, err := svc.CreateGroup(ctx, taxdomain.CreateGroupRequest{
		Name:     "VAT",
		Sequence: &sequence,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, vat.Sequence)

	_, err = svc.CreateGroup(ctx, taxdomain.CreateGroupRequest{
		Name:              "Withholding",
		PrecedingSubtotal: "Pre-withholding",
	})
	require.NoError(t, err)

	_, err = svc.CreateGroup(ctx, taxdomain.CreateGroupRequest{Name: " "})
	assert.ErrorIs(t, err, taxdomain.ErrInvalidName)

	groups, err := svc.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	// Default sequence 1 sorts Withholding ahead of VAT.
	assert.Equal(t, "Withholding", groups[0].Name)
	assert.Equal(t, "Pre-withholding", groups[0].PrecedingSubtotal)
	assert.Equal(t, "VAT", groups[1].Name)
}

func TestGroups_DuplicateNameRejected(t *testing.T) {
	svc, _, ctx := newTestService(t)

	_, err := svc.CreateGroup(ctx, taxdomain.CreateGroupRequest{Name: "VAT"})
	require.NoError(t, err)

	_, err = svc.CreateGroup(ctx, taxdomain.CreateGroupRequest{Name: "VAT"})
	assert.ErrorIs(t, err, taxdomain.ErrAlreadyExists)

	// A different organization may reuse the name.
	otherOrg := orgcontext.WithOrgID(context.Background(), int64(testNode.Generate()))
	_, err = svc.CreateGroup(otherOrg, taxdomain.CreateGroupRequest{Name: "VAT"})
	assert.NoError(t, err)
}
