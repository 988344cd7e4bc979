package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/taxline/internal/cache"
	"github.com/smallbiznis/taxline/internal/config"
	"github.com/smallbiznis/taxline/internal/orgcontext"
	taxdomain "github.com/smallbiznis/taxline/internal/tax/domain"
	"github.com/smallbiznis/taxline/internal/tax/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCalculator(t *testing.T) (taxdomain.Calculator, taxdomain.Service, context.Context) {
	t.Helper()

	db := newTestDB(t)
	repo := repository.NewRepository(db)
	svc := NewService(ServiceParams{
		Log:   zap.NewNop(),
		GenID: testNode,
		Repo:  repo,
	})

	currencies, err := config.NewCurrencyHolder(zap.NewNop())
	require.NoError(t, err)

	calc := NewCalculator(CalculatorParams{
		Log:        zap.NewNop(),
		Repo:       repo,
		Currencies: currencies,
		Cfg:        config.Config{CompanyCurrency: "USD"},
		Resolver:   cache.NewDefinitionResolverCache(),
	})
	ctx := orgcontext.WithOrgID(context.Background(), int64(testNode.Generate()))
	return calc, svc, ctx
}

func accountedRepartition(account string) []taxdomain.RepartitionLineRequest {
	one := decimal.NewFromInt(1)
	return []taxdomain.RepartitionLineRequest{
		{DocumentType: taxdomain.DocumentInvoice, Kind: taxdomain.RepartitionBase, Factor: one},
		{DocumentType: taxdomain.DocumentInvoice, Kind: taxdomain.RepartitionTax, Factor: one, AccountID: account},
		{DocumentType: taxdomain.DocumentRefund, Kind: taxdomain.RepartitionBase, Factor: one},
		{DocumentType: taxdomain.DocumentRefund, Kind: taxdomain.RepartitionTax, Factor: one, AccountID: account},
	}
}

func createPercentTax(t *testing.T, svc taxdomain.Service, ctx context.Context, name string, rate int64, mutate func(*taxdomain.CreateRequest)) *taxdomain.Response {
	t.Helper()

	req := taxdomain.CreateRequest{
		Name:             name,
		AmountKind:       taxdomain.AmountKindPercent,
		Rate:             decimal.NewFromInt(rate),
		RepartitionLines: accountedRepartition(testNode.Generate().String()),
	}
	if mutate != nil {
		mutate(&req)
	}
	resp, err := svc.Create(ctx, req)
	require.NoError(t, err)
	return resp
}

func TestCompute_PercentTax(t *testing.T) {
	calc, svc, ctx := newTestCalculator(t)
	tax := createPercentTax(t, svc, ctx, "VAT 10%", 10, nil)

	resp, err := calc.Compute(ctx, taxdomain.ComputeRequest{
		Currency: "EUR",
		Lines: []taxdomain.ComputeLine{
			{
				PriceUnit: decimal.NewFromInt(100),
				Quantity:  decimal.NewFromInt(2),
				TaxIDs:    []string{tax.ID},
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "EUR", resp.Currency)
	assert.Equal(t, "200", resp.BaseAmount.String())
	assert.Equal(t, "20", resp.TaxAmount.String())

	require.Len(t, resp.Lines, 1)
	line := resp.Lines[0]
	assert.Equal(t, "200", line.TotalExcluded.String())
	assert.Equal(t, "220", line.TotalIncluded.String())
	assert.True(t, line.TotalVoid.IsZero())

	require.Len(t, line.Taxes, 1)
	assert.Equal(t, tax.ID, line.Taxes[0].TaxID)
	assert.Equal(t, "VAT 10%", line.Taxes[0].Name)
	assert.Equal(t, "200", line.Taxes[0].BaseAmount.String())
	assert.Equal(t, "20", line.Taxes[0].TaxAmount.String())
	assert.False(t, line.Taxes[0].PriceIncluded)

	require.Len(t, resp.Groups, 1)
	assert.Equal(t, tax.ID, resp.Groups[0].TaxID)
	assert.Equal(t, "20", resp.Groups[0].TaxAmount.String())
}

func TestCompute_PriceIncludedTax(t *testing.T) {
	calc, svc, ctx := newTestCalculator(t)
	tax := createPercentTax(t, svc, ctx, "VAT 10% incl", 10, func(req *taxdomain.CreateRequest) {
		req.PriceIncluded = true
	})

	resp, err := calc.Compute(ctx, taxdomain.ComputeRequest{
		Currency: "EUR",
		Lines: []taxdomain.ComputeLine{
			{PriceUnit: decimal.NewFromInt(110), TaxIDs: []string{tax.ID}},
		},
	})
	require.NoError(t, err)

	require.Len(t, resp.Lines, 1)
	line := resp.Lines[0]
	assert.Equal(t, "100", line.TotalExcluded.String())
	assert.Equal(t, "110", line.TotalIncluded.String())
	require.Len(t, line.Taxes, 1)
	assert.Equal(t, "10", line.Taxes[0].TaxAmount.String())
	assert.True(t, line.Taxes[0].PriceIncluded)
}

func TestCompute_GroupTaxExpandsChildren(t *testing.T) {
	calc, svc, ctx := newTestCalculator(t)

	percent := createPercentTax(t, svc, ctx, "Percent 10%", 10, nil)
	fixed := createPercentTax(t, svc, ctx, "Fixed 5", 5, func(req *taxdomain.CreateRequest) {
		req.AmountKind = taxdomain.AmountKindFixed
		sequence := 2
		req.Sequence = &sequence
	})

	group, err := svc.Create(ctx, taxdomain.CreateRequest{
		Name:       "Combined",
		AmountKind: taxdomain.AmountKindGroup,
		ChildIDs:   []string{percent.ID, fixed.ID},
	})
	require.NoError(t, err)

	resp, err := calc.Compute(ctx, taxdomain.ComputeRequest{
		Currency: "EUR",
		Lines: []taxdomain.ComputeLine{
			{PriceUnit: decimal.NewFromInt(100), TaxIDs: []string{group.ID}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "15", resp.TaxAmount.String())
	require.Len(t, resp.Lines, 1)
	line := resp.Lines[0]
	assert.Equal(t, "100", line.TotalExcluded.String())
	assert.Equal(t, "115", line.TotalIncluded.String())

	require.Len(t, line.Taxes, 2)
	for _, detail := range line.Taxes {
		assert.Equal(t, group.ID, detail.GroupID)
	}
}

func TestCompute_IncludeBaseAmountChainsTaxes(t *testing.T) {
	calc, svc, ctx := newTestCalculator(t)

	first := createPercentTax(t, svc, ctx, "Excise 10%", 10, func(req *taxdomain.CreateRequest) {
		req.IncludeBaseAmount = true
	})
	second := createPercentTax(t, svc, ctx, "VAT 10%", 10, func(req *taxdomain.CreateRequest) {
		sequence := 2
		req.Sequence = &sequence
	})

	resp, err := calc.Compute(ctx, taxdomain.ComputeRequest{
		Currency: "EUR",
		Lines: []taxdomain.ComputeLine{
			{PriceUnit: decimal.NewFromInt(100), TaxIDs: []string{first.ID, second.ID}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "21", resp.TaxAmount.String())
	require.Len(t, resp.Lines, 1)
	line := resp.Lines[0]
	assert.Equal(t, "121", line.TotalIncluded.String())

	byName := make(map[string]taxdomain.TaxDetailResponse, len(line.Taxes))
	for _, detail := range line.Taxes {
		byName[detail.Name] = detail
	}
	require.Contains(t, byName, "Excise 10%")
	require.Contains(t, byName, "VAT 10%")
	assert.Equal(t, "100", byName["Excise 10%"].BaseAmount.String())
	assert.Equal(t, "10", byName["Excise 10%"].TaxAmount.String())
	assert.Equal(t, "110", byName["VAT 10%"].BaseAmount.String())
	assert.Equal(t, "11", byName["VAT 10%"].TaxAmount.String())
}

func TestCompute_DiscountAndDefaultQuantity(t *testing.T) {
	calc, svc, ctx := newTestCalculator(t)
	tax := createPercentTax(t, svc, ctx, "VAT 10%", 10, nil)

	resp, err := calc.Compute(ctx, taxdomain.ComputeRequest{
		Currency: "EUR",
		Lines: []taxdomain.ComputeLine{
			{
				PriceUnit: decimal.NewFromInt(100),
				Discount:  decimal.NewFromInt(50),
				TaxIDs:    []string{tax.ID},
			},
		},
	})
	require.NoError(t, err)

	// Quantity omitted counts as one unit; a 50% discount halves the base.
	assert.Equal(t, "50", resp.BaseAmount.String())
	assert.Equal(t, "5", resp.TaxAmount.String())
}

func TestCompute_RefundUsesRefundRepartition(t *testing.T) {
	calc, svc, ctx := newTestCalculator(t)
	tax := createPercentTax(t, svc, ctx, "VAT 10%", 10, nil)

	var invoiceTaxLine, refundTaxLine string
	for _, line := range tax.RepartitionLines {
		if line.Kind != taxdomain.RepartitionTax {
			continue
		}
		switch line.DocumentType {
		case taxdomain.DocumentInvoice:
			invoiceTaxLine = line.ID
		case taxdomain.DocumentRefund:
			refundTaxLine = line.ID
		}
	}
	require.NotEmpty(t, refundTaxLine)

	resp, err := calc.Compute(ctx, taxdomain.ComputeRequest{
		Currency: "EUR",
		IsRefund: true,
		Lines: []taxdomain.ComputeLine{
			{PriceUnit: decimal.NewFromInt(100), TaxIDs: []string{tax.ID}},
		},
	})
	require.NoError(t, err)

	require.Len(t, resp.Lines, 1)
	require.Len(t, resp.Lines[0].Taxes, 1)
	assert.Equal(t, refundTaxLine, resp.Lines[0].Taxes[0].RepartitionLineID)
	assert.NotEqual(t, invoiceTaxLine, resp.Lines[0].Taxes[0].RepartitionLineID)
}

func TestCompute_UnaccountedTaxGoesToVoid(t *testing.T) {
	calc, svc, ctx := newTestCalculator(t)

	tax, err := svc.Create(ctx, taxdomain.CreateRequest{
		Name:             "VAT 10%",
		AmountKind:       taxdomain.AmountKindPercent,
		Rate:             decimal.NewFromInt(10),
		RepartitionLines: standardRepartition(),
	})
	require.NoError(t, err)

	resp, err := calc.Compute(ctx, taxdomain.ComputeRequest{
		Currency: "EUR",
		Lines: []taxdomain.ComputeLine{
			{PriceUnit: decimal.NewFromInt(100), TaxIDs: []string{tax.ID}},
		},
	})
	require.NoError(t, err)

	require.Len(t, resp.Lines, 1)
	assert.Equal(t, "10", resp.Lines[0].TotalVoid.String())
}

func TestCompute_SecondCallServedFromCache(t *testing.T) {
	calc, svc, ctx := newTestCalculator(t)
	tax := createPercentTax(t, svc, ctx, "VAT 10%", 10, nil)

	req := taxdomain.ComputeRequest{
		Currency: "EUR",
		Lines: []taxdomain.ComputeLine{
			{PriceUnit: decimal.NewFromInt(100), TaxIDs: []string{tax.ID}},
		},
	}

	first, err := calc.Compute(ctx, req)
	require.NoError(t, err)
	second, err := calc.Compute(ctx, req)
	require.NoError(t, err)

	assert.True(t, first.TaxAmount.Equal(second.TaxAmount))
	assert.True(t, first.BaseAmount.Equal(second.BaseAmount))
	require.Len(t, second.Lines, 1)
	assert.Equal(t, "10", second.Lines[0].Taxes[0].TaxAmount.String())
}

func TestCompute_Validation(t *testing.T) {
	calc, svc, ctx := newTestCalculator(t)
	tax := createPercentTax(t, svc, ctx, "VAT 10%", 10, nil)

	line := taxdomain.ComputeLine{
		PriceUnit: decimal.NewFromInt(100),
		TaxIDs:    []string{tax.ID},
	}

	_, err := calc.Compute(ctx, taxdomain.ComputeRequest{Lines: []taxdomain.ComputeLine{line}})
	assert.ErrorIs(t, err, taxdomain.ErrInvalidCurrency)

	_, err = calc.Compute(ctx, taxdomain.ComputeRequest{Currency: "EUR"})
	assert.ErrorIs(t, err, taxdomain.ErrInvalidLine)

	_, err = calc.Compute(ctx, taxdomain.ComputeRequest{
		Currency: "EUR",
		Lines: []taxdomain.ComputeLine{
			{PriceUnit: decimal.NewFromInt(100), TaxIDs: []string{testNode.Generate().String()}},
		},
	})
	assert.ErrorIs(t, err, taxdomain.ErrNotFound)

	_, err = calc.Compute(context.Background(), taxdomain.ComputeRequest{
		Currency: "EUR",
		Lines:    []taxdomain.ComputeLine{line},
	})
	assert.ErrorIs(t, err, taxdomain.ErrInvalidOrganization)
}

func TestComputeTotals_GroupSections(t *testing.T) {
	calc, svc, ctx := newTestCalculator(t)

	vatGroup, err := svc.CreateGroup(ctx, taxdomain.CreateGroupRequest{Name: "VAT"})
	require.NoError(t, err)

	tax := createPercentTax(t, svc, ctx, "VAT 10%", 10, func(req *taxdomain.CreateRequest) {
		req.TaxGroupID = &vatGroup.ID
	})

	resp, err := calc.ComputeTotals(ctx, taxdomain.ComputeRequest{
		Currency: "EUR",
		Lines: []taxdomain.ComputeLine{
			{PriceUnit: decimal.NewFromInt(100), TaxIDs: []string{tax.ID}},
			{PriceUnit: decimal.NewFromInt(50), TaxIDs: []string{tax.ID}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "150", resp.AmountUntaxed.String())
	assert.Equal(t, "165", resp.AmountTotal.String())

	require.Len(t, resp.Subtotals, 1)
	section := resp.Subtotals[0]
	assert.Equal(t, "Untaxed Amount", section.Name)
	assert.Equal(t, "150", section.Amount.String())

	require.Len(t, section.Groups, 1)
	assert.Equal(t, "VAT", section.Groups[0].Name)
	assert.Equal(t, "15", section.Groups[0].TaxAmount.String())
	assert.Equal(t, "150", section.Groups[0].BaseAmount.String())
}
