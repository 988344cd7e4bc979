package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/taxline/pkg/db/pagination"
)

// Service manages tax definitions and tax groups.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	Get(ctx context.Context, id string) (*Response, error)
	List(ctx context.Context, req ListRequest) (*ListResponse, error)
	Update(ctx context.Context, req UpdateRequest) (*Response, error)
	Disable(ctx context.Context, id string) (*Response, error)

	CreateGroup(ctx context.Context, req CreateGroupRequest) (*GroupResponse, error)
	ListGroups(ctx context.Context) ([]GroupResponse, error)
}

// Calculator runs the tax engine over priced document lines.
type Calculator interface {
	Compute(ctx context.Context, req ComputeRequest) (*ComputeResponse, error)
	ComputeTotals(ctx context.Context, req ComputeRequest) (*TotalsResponse, error)
}

type ListRequest struct {
	PageToken  string
	PageSize   int32
	Name       string
	AmountKind string
	Active     *bool
	SortBy     string
	OrderBy    string
}

type ListResponse struct {
	pagination.PageInfo
	Taxes []Response `json:"taxes"`
}

type RepartitionLineRequest struct {
	DocumentType string          `json:"document_type"`
	Kind         string          `json:"kind"`
	Factor       decimal.Decimal `json:"factor"`
	AccountID    string          `json:"account_id,omitempty"`
	TagIDs       []string        `json:"tag_ids,omitempty"`
}

type CreateRequest struct {
	Name              string                   `json:"name"`
	Description       *string                  `json:"description,omitempty"`
	Sequence          *int                     `json:"sequence,omitempty"`
	AmountKind        string                   `json:"amount_kind"`
	Rate              decimal.Decimal          `json:"rate"`
	PriceIncluded     bool                     `json:"price_included"`
	IncludeBaseAmount bool                     `json:"include_base_amount"`
	IsBaseAffected    *bool                    `json:"is_base_affected,omitempty"`
	ChildIDs          []string                 `json:"child_ids,omitempty"`
	TaxGroupID        *string                  `json:"tax_group_id,omitempty"`
	RepartitionLines  []RepartitionLineRequest `json:"repartition_lines,omitempty"`
	Active            *bool                    `json:"active,omitempty"`
}

type UpdateRequest struct {
	ID          string           `json:"id"`
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Sequence    *int             `json:"sequence,omitempty"`
	Rate        *decimal.Decimal `json:"rate,omitempty"`
	TaxGroupID  *string          `json:"tax_group_id,omitempty"`
	Active      *bool            `json:"active,omitempty"`
}

type RepartitionLineResponse struct {
	ID           string          `json:"id"`
	DocumentType string          `json:"document_type"`
	Kind         string          `json:"kind"`
	Factor       decimal.Decimal `json:"factor"`
	AccountID    string          `json:"account_id,omitempty"`
	TagIDs       []string        `json:"tag_ids,omitempty"`
}

type Response struct {
	ID                string                    `json:"id"`
	OrganizationID    string                    `json:"organization_id"`
	Name              string                    `json:"name"`
	Description       *string                   `json:"description,omitempty"`
	Sequence          int                       `json:"sequence"`
	AmountKind        string                    `json:"amount_kind"`
	Rate              decimal.Decimal           `json:"rate"`
	PriceIncluded     bool                      `json:"price_included"`
	IncludeBaseAmount bool                      `json:"include_base_amount"`
	IsBaseAffected    bool                      `json:"is_base_affected"`
	ChildIDs          []string                  `json:"child_ids,omitempty"`
	TaxGroupID        *string                   `json:"tax_group_id,omitempty"`
	RepartitionLines  []RepartitionLineResponse `json:"repartition_lines,omitempty"`
	Active            bool                      `json:"active"`
	CreatedAt         time.Time                 `json:"created_at"`
	UpdatedAt         time.Time                 `json:"updated_at"`
}

type CreateGroupRequest struct {
	Name              string `json:"name"`
	Sequence          *int   `json:"sequence,omitempty"`
	PrecedingSubtotal string `json:"preceding_subtotal,omitempty"`
}

type GroupResponse struct {
	ID                string    `json:"id"`
	OrganizationID    string    `json:"organization_id"`
	Name              string    `json:"name"`
	Sequence          int       `json:"sequence"`
	PrecedingSubtotal string    `json:"preceding_subtotal,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type ComputeLine struct {
	RecordID  string          `json:"record_id,omitempty"`
	PriceUnit decimal.Decimal `json:"price_unit"`
	Quantity  decimal.Decimal `json:"quantity"`
	Discount  decimal.Decimal `json:"discount"`
	TaxIDs    []string        `json:"tax_ids"`
}

type ComputeRequest struct {
	Currency string `json:"currency"`
	IsRefund bool   `json:"is_refund"`
	// Rate converts document currency to company currency; zero means 1.
	Rate  decimal.Decimal `json:"rate"`
	Lines []ComputeLine   `json:"lines"`
}

type TaxDetailResponse struct {
	TaxID             string          `json:"tax_id"`
	Name              string          `json:"name"`
	RepartitionLineID string          `json:"repartition_line_id"`
	AccountID         string          `json:"account_id,omitempty"`
	GroupID           string          `json:"group_id,omitempty"`
	PriceIncluded     bool            `json:"price_included"`
	BaseAmount        decimal.Decimal `json:"base_amount"`
	TaxAmount         decimal.Decimal `json:"tax_amount"`
	TagIDs            []string        `json:"tag_ids,omitempty"`
}

type LineResult struct {
	RecordID      string              `json:"record_id,omitempty"`
	TotalExcluded decimal.Decimal     `json:"total_excluded"`
	TotalIncluded decimal.Decimal     `json:"total_included"`
	TotalVoid     decimal.Decimal     `json:"total_void"`
	Taxes         []TaxDetailResponse `json:"taxes"`
}

type GroupSummary struct {
	TaxID      string          `json:"tax_id"`
	AccountID  string          `json:"account_id,omitempty"`
	BaseAmount decimal.Decimal `json:"base_amount"`
	TaxAmount  decimal.Decimal `json:"tax_amount"`
}

type ComputeResponse struct {
	Currency   string          `json:"currency"`
	BaseAmount decimal.Decimal `json:"base_amount"`
	TaxAmount  decimal.Decimal `json:"tax_amount"`
	Lines      []LineResult    `json:"lines"`
	Groups     []GroupSummary  `json:"groups"`
}

type TaxGroupTotalResponse struct {
	Name       string          `json:"name"`
	TaxAmount  decimal.Decimal `json:"tax_amount"`
	BaseAmount decimal.Decimal `json:"base_amount"`
}

type SubtotalResponse struct {
	Name   string                  `json:"name"`
	Amount decimal.Decimal         `json:"amount"`
	Groups []TaxGroupTotalResponse `json:"groups"`
}

type TotalsResponse struct {
	AmountUntaxed  decimal.Decimal    `json:"amount_untaxed"`
	AmountTotal    decimal.Decimal    `json:"amount_total"`
	Subtotals      []SubtotalResponse `json:"subtotals"`
	DisplayTaxBase bool               `json:"display_tax_base"`
}
