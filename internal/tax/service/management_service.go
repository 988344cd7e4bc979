package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/taxline/internal/observability/metrics"
	"github.com/smallbiznis/taxline/internal/orgcontext"
	taxdomain "github.com/smallbiznis/taxline/internal/tax/domain"
	"github.com/smallbiznis/taxline/pkg/db"
	"github.com/smallbiznis/taxline/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type ServiceParams struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    taxdomain.Repository
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	genID   *snowflake.Node
	repo    taxdomain.Repository
	metrics *metrics.Metrics
}

func NewService(p ServiceParams) taxdomain.Service {
	return &Service{
		log:     p.Log.Named("tax.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req taxdomain.CreateRequest) (*taxdomain.Response, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, taxdomain.ErrInvalidOrganization
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, taxdomain.ErrInvalidName
	}

	sequence := 1
	if req.Sequence != nil {
		sequence = *req.Sequence
	}
	isBaseAffected := true
	if req.IsBaseAffected != nil {
		isBaseAffected = *req.IsBaseAffected
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	description := strings.TrimSpace(ptrToString(req.Description))
	var descriptionPtr *string
	if description != "" {
		descriptionPtr = &description
	}

	childIDs, err := parseIDs(req.ChildIDs)
	if err != nil {
		return nil, taxdomain.ErrInvalidID
	}
	if len(childIDs) > 0 {
		children, err := s.repo.FindByIDs(ctx, orgID, childIDs)
		if err != nil {
			return nil, err
		}
		if len(children) != len(childIDs) {
			return nil, taxdomain.ErrUnknownChild
		}
	}

	var taxGroupID *snowflake.ID
	if req.TaxGroupID != nil {
		parsed, err := snowflake.ParseString(strings.TrimSpace(*req.TaxGroupID))
		if err != nil {
			return nil, taxdomain.ErrInvalidID
		}
		taxGroupID = &parsed
	}

	now := time.Now().UTC()
	record := &taxdomain.TaxDefinition{
		ID:                s.genID.Generate(),
		OrgID:             orgID,
		Name:              name,
		Description:       descriptionPtr,
		Sequence:          sequence,
		AmountKind:        strings.ToLower(strings.TrimSpace(req.AmountKind)),
		Rate:              req.Rate,
		PriceIncluded:     req.PriceIncluded,
		IncludeBaseAmount: req.IncludeBaseAmount,
		IsBaseAffected:    isBaseAffected,
		ChildIDs:          datatypes.NewJSONSlice(childIDs),
		TaxGroupID:        taxGroupID,
		Active:            active,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	lines, err := s.buildRepartitionLines(record.ID, req.RepartitionLines)
	if err != nil {
		return nil, err
	}
	record.RepartitionLines = lines

	if err := record.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, record); err != nil {
		if db.IsDuplicateKey(err) {
			return nil, taxdomain.ErrAlreadyExists
		}
		return nil, err
	}

	s.metrics.RecordDefinitionCreated(ctx, record.AmountKind)
	s.log.Info("tax definition created",
		zap.String("tax_id", record.ID.String()),
		zap.String("amount_kind", record.AmountKind),
	)

	resp := toResponse(record)
	return &resp, nil
}

func (s *Service) Get(ctx context.Context, id string) (*taxdomain.Response, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, taxdomain.ErrInvalidOrganization
	}

	defID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, taxdomain.ErrInvalidID
	}

	item, err := s.repo.FindByID(ctx, orgID, defID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, taxdomain.ErrNotFound
	}

	resp := toResponse(item)
	return &resp, nil
}

func (s *Service) List(ctx context.Context, req taxdomain.ListRequest) (*taxdomain.ListResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, taxdomain.ErrInvalidOrganization
	}

	filter := taxdomain.ListRequest{
		Name:       strings.TrimSpace(req.Name),
		AmountKind: strings.ToLower(strings.TrimSpace(req.AmountKind)),
		Active:     req.Active,
		SortBy:     strings.TrimSpace(req.SortBy),
		OrderBy:    strings.TrimSpace(req.OrderBy),
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.List(ctx, orgID, filter, pagination.Pagination{
		PageToken: strings.TrimSpace(req.PageToken),
		PageSize:  int(pageSize),
	})
	if err != nil {
		return nil, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(def *taxdomain.TaxDefinition) string {
		token, err := pagination.TokenFor(def.ID.String(), def.CreatedAt)
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	taxes := make([]taxdomain.Response, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		taxes = append(taxes, toResponse(item))
	}

	resp := &taxdomain.ListResponse{Taxes: taxes}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) Update(ctx context.Context, req taxdomain.UpdateRequest) (*taxdomain.Response, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, taxdomain.ErrInvalidOrganization
	}

	defID, err := snowflake.ParseString(strings.TrimSpace(req.ID))
	if err != nil {
		return nil, taxdomain.ErrInvalidID
	}

	item, err := s.repo.FindByID(ctx, orgID, defID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, taxdomain.ErrNotFound
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, taxdomain.ErrInvalidName
		}
		item.Name = name
	}
	if req.Description != nil {
		description := strings.TrimSpace(*req.Description)
		if description == "" {
			item.Description = nil
		} else {
			item.Description = &description
		}
	}
	if req.Sequence != nil {
		item.Sequence = *req.Sequence
	}
	if req.Rate != nil {
		item.Rate = *req.Rate
	}
	if req.TaxGroupID != nil {
		parsed, err := snowflake.ParseString(strings.TrimSpace(*req.TaxGroupID))
		if err != nil {
			return nil, taxdomain.ErrInvalidID
		}
		item.TaxGroupID = &parsed
	}
	if req.Active != nil {
		item.Active = *req.Active
	}

	item.UpdatedAt = time.Now().UTC()
	if err := item.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, item); err != nil {
		return nil, err
	}

	resp := toResponse(item)
	return &resp, nil
}

func (s *Service) Disable(ctx context.Context, id string) (*taxdomain.Response, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, taxdomain.ErrInvalidOrganization
	}

	defID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, taxdomain.ErrInvalidID
	}

	item, err := s.repo.FindByID(ctx, orgID, defID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, taxdomain.ErrNotFound
	}

	item.Active = false
	item.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, item); err != nil {
		return nil, err
	}

	resp := toResponse(item)
	return &resp, nil
}

func (s *Service) CreateGroup(ctx context.Context, req taxdomain.CreateGroupRequest) (*taxdomain.GroupResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, taxdomain.ErrInvalidOrganization
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, taxdomain.ErrInvalidName
	}
	sequence := 1
	if req.Sequence != nil {
		sequence = *req.Sequence
	}

	now := time.Now().UTC()
	group := &taxdomain.TaxGroup{
		ID:                s.genID.Generate(),
		OrgID:             orgID,
		Name:              name,
		Sequence:          sequence,
		PrecedingSubtotal: strings.TrimSpace(req.PrecedingSubtotal),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.CreateGroup(ctx, group); err != nil {
		if db.IsDuplicateKey(err) {
			return nil, taxdomain.ErrAlreadyExists
		}
		return nil, err
	}

	resp := toGroupResponse(group)
	return &resp, nil
}

func (s *Service) ListGroups(ctx context.Context) ([]taxdomain.GroupResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, taxdomain.ErrInvalidOrganization
	}

	groups, err := s.repo.ListGroups(ctx, orgID)
	if err != nil {
		return nil, err
	}

	resp := make([]taxdomain.GroupResponse, 0, len(groups))
	for i := range groups {
		resp = append(resp, toGroupResponse(&groups[i]))
	}
	return resp, nil
}

func (s *Service) buildRepartitionLines(taxID snowflake.ID, reqs []taxdomain.RepartitionLineRequest) ([]taxdomain.TaxRepartitionLine, error) {
	lines := make([]taxdomain.TaxRepartitionLine, 0, len(reqs))
	for i, req := range reqs {
		var accountID snowflake.ID
		if trimmed := strings.TrimSpace(req.AccountID); trimmed != "" {
			parsed, err := snowflake.ParseString(trimmed)
			if err != nil {
				return nil, taxdomain.ErrInvalidID
			}
			accountID = parsed
		}
		tagIDs, err := parseIDs(req.TagIDs)
		if err != nil {
			return nil, taxdomain.ErrInvalidID
		}

		lines = append(lines, taxdomain.TaxRepartitionLine{
			ID:           s.genID.Generate(),
			TaxID:        taxID,
			DocumentType: strings.ToLower(strings.TrimSpace(req.DocumentType)),
			Kind:         strings.ToLower(strings.TrimSpace(req.Kind)),
			Factor:       req.Factor,
			Sequence:     i + 1,
			AccountID:    accountID,
			TagIDs:       datatypes.NewJSONSlice(tagIDs),
		})
	}
	return lines, nil
}

func toResponse(def *taxdomain.TaxDefinition) taxdomain.Response {
	var taxGroupID *string
	if def.TaxGroupID != nil {
		str := def.TaxGroupID.String()
		taxGroupID = &str
	}

	lines := make([]taxdomain.RepartitionLineResponse, 0, len(def.RepartitionLines))
	for _, line := range def.RepartitionLines {
		lines = append(lines, taxdomain.RepartitionLineResponse{
			ID:           line.ID.String(),
			DocumentType: line.DocumentType,
			Kind:         line.Kind,
			Factor:       line.Factor,
			AccountID:    formatID(line.AccountID),
			TagIDs:       formatIDs(line.TagIDs),
		})
	}

	return taxdomain.Response{
		ID:                def.ID.String(),
		OrganizationID:    def.OrgID.String(),
		Name:              def.Name,
		Description:       def.Description,
		Sequence:          def.Sequence,
		AmountKind:        def.AmountKind,
		Rate:              def.Rate,
		PriceIncluded:     def.PriceIncluded,
		IncludeBaseAmount: def.IncludeBaseAmount,
		IsBaseAffected:    def.IsBaseAffected,
		ChildIDs:          formatIDs(def.ChildIDs),
		TaxGroupID:        taxGroupID,
		RepartitionLines:  lines,
		Active:            def.Active,
		CreatedAt:         def.CreatedAt,
		UpdatedAt:         def.UpdatedAt,
	}
}

func toGroupResponse(group *taxdomain.TaxGroup) taxdomain.GroupResponse {
	return taxdomain.GroupResponse{
		ID:                group.ID.String(),
		OrganizationID:    group.OrgID.String(),
		Name:              group.Name,
		Sequence:          group.Sequence,
		PrecedingSubtotal: group.PrecedingSubtotal,
		CreatedAt:         group.CreatedAt,
		UpdatedAt:         group.UpdatedAt,
	}
}

func parseIDs(values []string) ([]snowflake.ID, error) {
	if len(values) == 0 {
		return nil, nil
	}
	ids := make([]snowflake.ID, 0, len(values))
	for _, value := range values {
		parsed, err := snowflake.ParseString(strings.TrimSpace(value))
		if err != nil {
			return nil, err
		}
		ids = append(ids, parsed)
	}
	return ids, nil
}

func formatID(id snowflake.ID) string {
	if id == 0 {
		return ""
	}
	return id.String()
}

func formatIDs(ids []snowflake.ID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func ptrToString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
