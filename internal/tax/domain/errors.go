package domain

import "errors"

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidName          = errors.New("invalid_name")
	ErrInvalidID            = errors.New("invalid_id")
	ErrNotFound             = errors.New("not_found")
	ErrAlreadyExists        = errors.New("already_exists")
	ErrInvalidAmountKind    = errors.New("invalid_amount_kind")
	ErrInvalidTaxRate       = errors.New("invalid_tax_rate")
	ErrInvalidRepartition   = errors.New("invalid_repartition")
	ErrGroupWithRepartition = errors.New("group_with_repartition")
	ErrChildrenOnLeaf       = errors.New("children_on_leaf")
	ErrUnknownChild         = errors.New("unknown_child")
	ErrInvalidCurrency      = errors.New("invalid_currency")
	ErrInvalidLine          = errors.New("invalid_line")
)
