package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Amount kinds a definition can carry. These values are ENGINE-CONSTANTS:
// do NOT rename or repurpose once used in stored definitions.
const (
	AmountKindGroup    = "group"
	AmountKindFixed    = "fixed"
	AmountKindPercent  = "percent"
	AmountKindDivision = "division"
)

// Document types a repartition line applies to.
const (
	DocumentInvoice = "invoice"
	DocumentRefund  = "refund"
)

// Repartition line kinds.
const (
	RepartitionBase = "base"
	RepartitionTax  = "tax"
)

// TaxDefinition is an org-scoped tax definition. A group-kind definition
// carries no rate of its own; it references child definitions by ID and is
// expanded at computation time.
type TaxDefinition struct {
	ID    snowflake.ID `gorm:"primaryKey"`
	OrgID snowflake.ID `gorm:"column:org_id;not null;index:idx_tax_definitions_org"`

	Name        string  `gorm:"type:text;not null"`
	Description *string `gorm:"type:text"`
	Sequence    int     `gorm:"not null;default:1"`

	AmountKind string          `gorm:"column:amount_kind;type:text;not null"`
	Rate       decimal.Decimal `gorm:"type:numeric(12,6);not null;default:0"`

	PriceIncluded     bool `gorm:"column:price_included;not null;default:false"`
	IncludeBaseAmount bool `gorm:"column:include_base_amount;not null;default:false"`
	IsBaseAffected    bool `gorm:"column:is_base_affected;not null;default:true"`

	// ChildIDs lists the member definitions of a group-kind tax; member
	// sequence decides application order.
	ChildIDs datatypes.JSONSlice[snowflake.ID] `gorm:"column:child_ids"`

	TaxGroupID *snowflake.ID `gorm:"column:tax_group_id"`

	Active bool `gorm:"not null;default:true"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`

	RepartitionLines []TaxRepartitionLine `gorm:"foreignKey:TaxID"`
}

func (TaxDefinition) TableName() string { return "tax_definitions" }

// TaxRepartitionLine splits one tax's amount across accounting destinations,
// per document type.
type TaxRepartitionLine struct {
	ID    snowflake.ID `gorm:"primaryKey"`
	TaxID snowflake.ID `gorm:"column:tax_id;not null;index:idx_tax_repartition_tax"`

	DocumentType string          `gorm:"column:document_type;type:text;not null"`
	Kind         string          `gorm:"type:text;not null"`
	Factor       decimal.Decimal `gorm:"type:numeric(12,6);not null;default:1"`
	Sequence     int             `gorm:"not null;default:1"`

	// AccountID zero means undetermined destination; such amounts roll into
	// total_void.
	AccountID snowflake.ID                      `gorm:"column:account_id;not null;default:0"`
	TagIDs    datatypes.JSONSlice[snowflake.ID] `gorm:"column:tag_ids"`
}

func (TaxRepartitionLine) TableName() string { return "tax_repartition_lines" }

// TaxGroup classifies taxes for totals display. Group names are unique within
// an organization.
type TaxGroup struct {
	ID    snowflake.ID `gorm:"primaryKey"`
	OrgID snowflake.ID `gorm:"column:org_id;not null;uniqueIndex:idx_tax_groups_org_name,priority:1"`

	Name              string `gorm:"type:text;not null;uniqueIndex:idx_tax_groups_org_name,priority:2"`
	Sequence          int    `gorm:"not null;default:1"`
	PrecedingSubtotal string `gorm:"column:preceding_subtotal;type:text;not null;default:''"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (TaxGroup) TableName() string { return "tax_groups" }

func (t *TaxDefinition) Validate() error {
	if t.Name == "" {
		return ErrInvalidName
	}
	switch t.AmountKind {
	case AmountKindGroup, AmountKindFixed, AmountKindPercent, AmountKindDivision:
	default:
		return ErrInvalidAmountKind
	}
	if t.AmountKind == AmountKindGroup {
		if len(t.RepartitionLines) > 0 {
			return ErrGroupWithRepartition
		}
		return nil
	}
	if len(t.ChildIDs) > 0 {
		return ErrChildrenOnLeaf
	}
	if t.AmountKind == AmountKindDivision && t.Rate.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return ErrInvalidTaxRate
	}
	return validateRepartitionLines(t.RepartitionLines)
}

func validateRepartitionLines(lines []TaxRepartitionLine) error {
	for _, doc := range []string{DocumentInvoice, DocumentRefund} {
		baseCount := 0
		taxCount := 0
		for _, line := range lines {
			if line.DocumentType != doc {
				continue
			}
			switch line.Kind {
			case RepartitionBase:
				baseCount++
			case RepartitionTax:
				taxCount++
			default:
				return ErrInvalidRepartition
			}
		}
		if baseCount != 1 || taxCount < 1 {
			return ErrInvalidRepartition
		}
	}
	return nil
}
