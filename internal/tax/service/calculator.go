package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/taxline/internal/cache"
	"github.com/smallbiznis/taxline/internal/config"
	"github.com/smallbiznis/taxline/internal/observability/metrics"
	"github.com/smallbiznis/taxline/internal/orgcontext"
	taxdomain "github.com/smallbiznis/taxline/internal/tax/domain"
	"github.com/smallbiznis/taxline/internal/tax/engine"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type CalculatorParams struct {
	fx.In

	Log        *zap.Logger
	Repo       taxdomain.Repository
	Currencies *config.CurrencyHolder
	Cfg        config.Config
	Resolver   cache.DefinitionResolverCache `optional:"true"`
	Metrics    *metrics.Metrics              `optional:"true"`
}

// Calculator resolves stored tax definitions into engine inputs and runs the
// computation over document lines.
type Calculator struct {
	log        *zap.Logger
	repo       taxdomain.Repository
	currencies *config.CurrencyHolder
	cfg        config.Config
	resolver   cache.DefinitionResolverCache
	metrics    *metrics.Metrics
}

func NewCalculator(p CalculatorParams) taxdomain.Calculator {
	return &Calculator{
		log:        p.Log.Named("tax.calculator"),
		repo:       p.Repo,
		currencies: p.Currencies,
		cfg:        p.Cfg,
		resolver:   p.Resolver,
		metrics:    p.Metrics,
	}
}

func (c *Calculator) Compute(ctx context.Context, req taxdomain.ComputeRequest) (*taxdomain.ComputeResponse, error) {
	start := time.Now()

	lines, currency, err := c.resolveLines(ctx, req)
	if err != nil {
		return nil, err
	}

	companyRounding := c.currencies.Rounding(c.cfg.CompanyCurrency)

	resp := &taxdomain.ComputeResponse{Currency: currency.Code}
	sources := make([]engine.SourceLine, 0, len(lines))
	roundingAdjustments := 0
	for _, line := range lines {
		result, err := engine.ComputeAll(line.base)
		if err != nil {
			return nil, err
		}
		roundingAdjustments += result.RoundingAdjustments

		sources = append(sources, engine.SourceLine{
			RecordID: line.recordID,
			Currency: currency,
			Details:  result.Details,
		})
		resp.Lines = append(resp.Lines, toLineResult(line, result))
	}

	agg := engine.AggregateDetails(sources, companyRounding, nil)
	resp.BaseAmount = agg.BaseAmount
	resp.TaxAmount = agg.TaxAmount
	for _, group := range agg.Groups {
		resp.Groups = append(resp.Groups, taxdomain.GroupSummary{
			TaxID:      group.Key.TaxID.String(),
			AccountID:  formatID(group.Key.AccountID),
			BaseAmount: group.BaseAmount,
			TaxAmount:  group.TaxAmount,
		})
	}

	c.metrics.RecordRoundingAdjustment(ctx, currency.Code, roundingAdjustments)
	c.metrics.RecordCompute(ctx, currency.Code, len(lines), time.Since(start))
	return resp, nil
}

func (c *Calculator) ComputeTotals(ctx context.Context, req taxdomain.ComputeRequest) (*taxdomain.TotalsResponse, error) {
	start := time.Now()

	lines, currency, err := c.resolveLines(ctx, req)
	if err != nil {
		return nil, err
	}

	companyRounding := c.currencies.Rounding(c.cfg.CompanyCurrency)

	totalsLines := make([]engine.TotalsLine, 0, len(lines))
	roundingAdjustments := 0
	for _, line := range lines {
		result, err := engine.ComputeAll(line.base)
		if err != nil {
			return nil, err
		}
		roundingAdjustments += result.RoundingAdjustments
		totalsLines = append(totalsLines, engine.TotalsLine{
			Currency:      currency,
			TotalExcluded: result.TotalExcluded,
			Rate:          line.base.Rate,
			Details:       result.Details,
		})
	}

	totals := engine.PrepareTaxTotals(totalsLines, companyRounding)

	resp := &taxdomain.TotalsResponse{
		AmountUntaxed:  totals.AmountUntaxed,
		AmountTotal:    totals.AmountTotal,
		DisplayTaxBase: totals.DisplayTaxBase,
	}
	for _, section := range totals.Subtotals {
		out := taxdomain.SubtotalResponse{
			Name:   section.Name,
			Amount: section.Amount,
		}
		for _, group := range section.Groups {
			out.Groups = append(out.Groups, taxdomain.TaxGroupTotalResponse{
				Name:       group.Group.Name,
				TaxAmount:  group.TaxAmount,
				BaseAmount: group.BaseAmount,
			})
		}
		resp.Subtotals = append(resp.Subtotals, out)
	}

	c.metrics.RecordRoundingAdjustment(ctx, currency.Code, roundingAdjustments)
	c.metrics.RecordCompute(ctx, currency.Code, len(lines), time.Since(start))
	return resp, nil
}

type resolvedLine struct {
	recordID snowflake.ID
	base     engine.BaseLine
}

func (c *Calculator) resolveLines(ctx context.Context, req taxdomain.ComputeRequest) ([]resolvedLine, engine.Currency, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, engine.Currency{}, taxdomain.ErrInvalidOrganization
	}

	code := strings.ToUpper(strings.TrimSpace(req.Currency))
	if code == "" {
		return nil, engine.Currency{}, taxdomain.ErrInvalidCurrency
	}
	currency := engine.Currency{Code: code, Rounding: c.currencies.Rounding(code)}

	if len(req.Lines) == 0 {
		return nil, engine.Currency{}, taxdomain.ErrInvalidLine
	}

	// Collect every referenced tax ID across lines before hitting storage.
	var allIDs []snowflake.ID
	seen := make(map[snowflake.ID]bool)
	lineTaxIDs := make([][]snowflake.ID, len(req.Lines))
	for i, line := range req.Lines {
		ids, err := parseIDs(line.TaxIDs)
		if err != nil {
			return nil, engine.Currency{}, taxdomain.ErrInvalidID
		}
		lineTaxIDs[i] = ids
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				allIDs = append(allIDs, id)
			}
		}
	}

	definitions, err := c.loadDefinitionClosure(ctx, orgID, allIDs)
	if err != nil {
		return nil, engine.Currency{}, err
	}

	lines := make([]resolvedLine, 0, len(req.Lines))
	for i, line := range req.Lines {
		taxes := make([]*engine.Definition, 0, len(lineTaxIDs[i]))
		for _, id := range lineTaxIDs[i] {
			def, ok := definitions[id]
			if !ok {
				return nil, engine.Currency{}, taxdomain.ErrNotFound
			}
			taxes = append(taxes, def)
		}

		var recordID snowflake.ID
		if trimmed := strings.TrimSpace(line.RecordID); trimmed != "" {
			parsed, err := snowflake.ParseString(trimmed)
			if err != nil {
				return nil, engine.Currency{}, taxdomain.ErrInvalidID
			}
			recordID = parsed
		}

		quantity := line.Quantity
		if quantity.IsZero() {
			quantity = decimal.NewFromInt(1)
		}

		lines = append(lines, resolvedLine{
			recordID: recordID,
			base: engine.BaseLine{
				PriceUnit:           line.PriceUnit,
				Quantity:            quantity,
				Discount:            line.Discount,
				Currency:            currency,
				Taxes:               taxes,
				IsRefund:            req.IsRefund,
				Rate:                req.Rate,
				HandlePriceIncluded: true,
			},
		})
	}
	return lines, currency, nil
}

// loadDefinitionClosure loads the requested definitions plus, transitively,
// every group member, and links them into engine definitions. Unresolvable or
// self-referencing memberships surface as engine errors later.
func (c *Calculator) loadDefinitionClosure(ctx context.Context, orgID snowflake.ID, ids []snowflake.ID) (map[snowflake.ID]*engine.Definition, error) {
	records := make(map[snowflake.ID]taxdomain.TaxDefinition)
	pending := ids

	for iterations := 0; len(pending) > 0; iterations++ {
		// A closure deeper than the total record count means a membership
		// cycle; stop loading and let Flatten report it.
		if iterations > len(records)+1 {
			break
		}

		misses := pending
		if c.resolver != nil {
			misses = misses[:0:0]
			for _, id := range pending {
				if cached, ok := c.resolver.GetDefinition(orgID, id); ok {
					records[cached.ID] = cached
					continue
				}
				misses = append(misses, id)
			}
		}

		var batch []taxdomain.TaxDefinition
		if len(misses) > 0 {
			var err error
			batch, err = c.repo.FindByIDs(ctx, orgID, misses)
			if err != nil {
				return nil, err
			}
			if len(batch) != len(misses) {
				return nil, taxdomain.ErrNotFound
			}
		}

		var next []snowflake.ID
		for _, record := range batch {
			records[record.ID] = record
			if c.resolver != nil {
				c.resolver.SetDefinition(orgID, record)
			}
		}
		for _, id := range pending {
			record, ok := records[id]
			if !ok {
				continue
			}
			for _, childID := range record.ChildIDs {
				if _, ok := records[childID]; !ok {
					next = append(next, childID)
				}
			}
		}
		pending = dedupeIDs(next)
	}

	groupIDs := make([]snowflake.ID, 0)
	seenGroups := make(map[snowflake.ID]bool)
	groupsByID := make(map[snowflake.ID]taxdomain.TaxGroup)
	for _, record := range records {
		if record.TaxGroupID == nil || seenGroups[*record.TaxGroupID] {
			continue
		}
		seenGroups[*record.TaxGroupID] = true
		if c.resolver != nil {
			if cached, ok := c.resolver.GetGroup(orgID, *record.TaxGroupID); ok {
				groupsByID[cached.ID] = cached
				continue
			}
		}
		groupIDs = append(groupIDs, *record.TaxGroupID)
	}
	groups, err := c.repo.FindGroups(ctx, orgID, groupIDs)
	if err != nil {
		return nil, err
	}
	for _, group := range groups {
		groupsByID[group.ID] = group
		if c.resolver != nil {
			c.resolver.SetGroup(orgID, group)
		}
	}

	definitions := make(map[snowflake.ID]*engine.Definition, len(records))
	for id, record := range records {
		definitions[id] = toEngineDefinition(record, groupsByID)
	}
	// Second pass wires group children once every node exists.
	for id, record := range records {
		for _, childID := range record.ChildIDs {
			child, ok := definitions[childID]
			if !ok {
				return nil, taxdomain.ErrUnknownChild
			}
			definitions[id].Children = append(definitions[id].Children, child)
		}
	}
	return definitions, nil
}

func toEngineDefinition(record taxdomain.TaxDefinition, groups map[snowflake.ID]taxdomain.TaxGroup) *engine.Definition {
	def := &engine.Definition{
		ID:                record.ID,
		Name:              record.Name,
		Sequence:          record.Sequence,
		AmountKind:        engine.AmountKind(record.AmountKind),
		Rate:              record.Rate,
		PriceIncluded:     record.PriceIncluded,
		IncludeBaseAmount: record.IncludeBaseAmount,
		IsBaseAffected:    record.IsBaseAffected,
	}

	if record.TaxGroupID != nil {
		if group, ok := groups[*record.TaxGroupID]; ok {
			def.TaxGroup = &engine.TaxGroup{
				ID:                group.ID,
				Name:              group.Name,
				Sequence:          group.Sequence,
				PrecedingSubtotal: group.PrecedingSubtotal,
			}
		}
	}

	for _, line := range record.RepartitionLines {
		out := engine.RepartitionLine{
			ID:        line.ID,
			Factor:    line.Factor,
			AccountID: line.AccountID,
			TagIDs:    append([]snowflake.ID(nil), line.TagIDs...),
		}
		switch line.Kind {
		case taxdomain.RepartitionBase:
			out.Kind = engine.RepartitionKindBase
		case taxdomain.RepartitionTax:
			out.Kind = engine.RepartitionKindTax
		}
		switch line.DocumentType {
		case taxdomain.DocumentInvoice:
			def.InvoiceRepartition = append(def.InvoiceRepartition, out)
		case taxdomain.DocumentRefund:
			def.RefundRepartition = append(def.RefundRepartition, out)
		}
	}
	return def
}

func toLineResult(line resolvedLine, result *engine.Result) taxdomain.LineResult {
	out := taxdomain.LineResult{
		RecordID:      formatID(line.recordID),
		TotalExcluded: result.TotalExcluded,
		TotalIncluded: result.TotalIncluded,
		TotalVoid:     result.TotalVoid,
	}
	for _, detail := range result.Details {
		out.Taxes = append(out.Taxes, taxdomain.TaxDetailResponse{
			TaxID:             detail.TaxID.String(),
			Name:              detail.Name,
			RepartitionLineID: detail.RepartitionLineID.String(),
			AccountID:         formatID(detail.AccountID),
			GroupID:           formatID(detail.GroupID),
			PriceIncluded:     detail.PriceIncluded,
			BaseAmount:        detail.BaseAmount,
			TaxAmount:         detail.TaxAmount,
			TagIDs:            formatIDs(detail.TagIDs),
		})
	}
	return out
}

func dedupeIDs(ids []snowflake.ID) []snowflake.ID {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[snowflake.ID]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
