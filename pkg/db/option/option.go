package option

import (
	"strconv"
	"strings"

	"github.com/smallbiznis/taxline/pkg/db/pagination"
	"gorm.io/gorm"
)

// Option mutates a GORM statement before execution.
type Option interface {
	Apply(stmt *gorm.DB) *gorm.DB
}

type paginationOption struct {
	page pagination.Pagination
}

// ApplyPagination builds an Option that applies cursor pagination. The
// statement is expected to be ordered by created_at DESC, id DESC, and one
// extra row is fetched so callers can detect a next page.
func ApplyPagination(page pagination.Pagination) Option {
	return paginationOption{page: page}
}

func (o paginationOption) Apply(stmt *gorm.DB) *gorm.DB {
	size := o.page.PageSize
	if size <= 0 {
		size = 10
	}
	if size > 250 {
		size = 250
	}

	if token := strings.TrimSpace(o.page.PageToken); token != "" {
		if cursor, err := pagination.DecodeCursor(token); err == nil && cursor != nil {
			createdAt, timeErr := cursor.Time()
			// The id column is a bigint; bind the cursor's ID as one so the
			// row-value comparison never falls back to text collation.
			id, idErr := strconv.ParseInt(cursor.ID, 10, 64)
			if timeErr == nil && idErr == nil {
				stmt = stmt.Where("(created_at, id) < (?, ?)", createdAt, id)
			}
		}
	}

	return stmt.Limit(size + 1)
}
