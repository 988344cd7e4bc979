package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	taxdomain "github.com/smallbiznis/taxline/internal/tax/domain"
	"github.com/smallbiznis/taxline/pkg/db/option"
	"github.com/smallbiznis/taxline/pkg/db/pagination"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) taxdomain.Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, def *taxdomain.TaxDefinition) error {
	return r.db.WithContext(ctx).Create(def).Error
}

func (r *repository) Update(ctx context.Context, def *taxdomain.TaxDefinition) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tax_id = ?", def.ID).Delete(&taxdomain.TaxRepartitionLine{}).Error; err != nil {
			return err
		}
		return tx.Save(def).Error
	})
}

func (r *repository) FindByID(ctx context.Context, orgID, id snowflake.ID) (*taxdomain.TaxDefinition, error) {
	var def taxdomain.TaxDefinition
	err := r.db.WithContext(ctx).
		Preload("RepartitionLines", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC, id ASC")
		}).
		Where("org_id = ? AND id = ?", orgID, id).
		First(&def).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &def, nil
}

func (r *repository) FindByIDs(ctx context.Context, orgID snowflake.ID, ids []snowflake.ID) ([]taxdomain.TaxDefinition, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var items []taxdomain.TaxDefinition
	err := r.db.WithContext(ctx).
		Preload("RepartitionLines", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC, id ASC")
		}).
		Where("org_id = ? AND id IN ?", orgID, ids).
		Find(&items).Error
	if err != nil {
		return nil, err
	}

	// Preserve the caller's order.
	byID := make(map[snowflake.ID]taxdomain.TaxDefinition, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	ordered := make([]taxdomain.TaxDefinition, 0, len(items))
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			ordered = append(ordered, item)
		}
	}
	return ordered, nil
}

func (r *repository) List(ctx context.Context, orgID snowflake.ID, filter taxdomain.ListRequest, page pagination.Pagination) ([]*taxdomain.TaxDefinition, error) {
	var items []*taxdomain.TaxDefinition
	stmt := r.db.WithContext(ctx).
		Model(&taxdomain.TaxDefinition{}).
		Preload("RepartitionLines", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC, id ASC")
		}).
		Where("org_id = ?", orgID)

	if filter.Name != "" {
		stmt = stmt.Where("name = ?", filter.Name)
	}
	if filter.AmountKind != "" {
		stmt = stmt.Where("amount_kind = ?", filter.AmountKind)
	}
	if filter.Active != nil {
		stmt = stmt.Where("active = ?", *filter.Active)
	}

	// Cursor pagination walks created_at DESC, so the caller's sort only
	// applies to unpaged requests.
	if strings.TrimSpace(page.PageToken) != "" {
		stmt = stmt.Order("created_at DESC, id DESC")
	} else {
		stmt = stmt.Order(sortClause(filter.SortBy, filter.OrderBy))
	}
	stmt = option.ApplyPagination(page).Apply(stmt)

	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) CreateGroup(ctx context.Context, group *taxdomain.TaxGroup) error {
	return r.db.WithContext(ctx).Create(group).Error
}

func (r *repository) FindGroups(ctx context.Context, orgID snowflake.ID, ids []snowflake.ID) ([]taxdomain.TaxGroup, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var groups []taxdomain.TaxGroup
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND id IN ?", orgID, ids).
		Find(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

func (r *repository) ListGroups(ctx context.Context, orgID snowflake.ID) ([]taxdomain.TaxGroup, error) {
	var groups []taxdomain.TaxGroup
	err := r.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("sequence ASC, id ASC").
		Find(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

var sortableColumns = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"name":       true,
	"sequence":   true,
}

func sortClause(sortBy, orderBy string) string {
	column := strings.ToLower(strings.TrimSpace(sortBy))
	if !sortableColumns[column] {
		column = "sequence"
	}
	direction := "ASC"
	if strings.EqualFold(strings.TrimSpace(orderBy), "desc") {
		direction = "DESC"
	}
	return column + " " + direction
}
