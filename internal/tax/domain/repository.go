package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/taxline/pkg/db/pagination"
)

type Repository interface {
	Create(ctx context.Context, def *TaxDefinition) error
	Update(ctx context.Context, def *TaxDefinition) error
	FindByID(ctx context.Context, orgID, id snowflake.ID) (*TaxDefinition, error)
	// FindByIDs returns the definitions with their repartition lines, in the
	// order of the given IDs. Missing IDs are simply absent from the result.
	FindByIDs(ctx context.Context, orgID snowflake.ID, ids []snowflake.ID) ([]TaxDefinition, error)
	List(ctx context.Context, orgID snowflake.ID, filter ListRequest, page pagination.Pagination) ([]*TaxDefinition, error)

	CreateGroup(ctx context.Context, group *TaxGroup) error
	FindGroups(ctx context.Context, orgID snowflake.ID, ids []snowflake.ID) ([]TaxGroup, error)
	ListGroups(ctx context.Context, orgID snowflake.ID) ([]TaxGroup, error)
}
