package cache

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	taxdomain "github.com/smallbiznis/taxline/internal/tax/domain"
)

const (
	defaultDefinitionTTL = 30 * time.Second
	defaultGroupTTL      = 5 * time.Minute
)

// DefinitionResolverCache stores hot-path lookups for tax computation.
// Entries expire on a short TTL, so definition edits take effect without
// explicit invalidation.
type DefinitionResolverCache interface {
	GetDefinition(orgID, taxID snowflake.ID) (taxdomain.TaxDefinition, bool)
	SetDefinition(orgID snowflake.ID, def taxdomain.TaxDefinition)
	GetGroup(orgID, groupID snowflake.ID) (taxdomain.TaxGroup, bool)
	SetGroup(orgID snowflake.ID, group taxdomain.TaxGroup)
}

type definitionResolverCache struct {
	definitions   Cache[string, taxdomain.TaxDefinition]
	groups        Cache[string, taxdomain.TaxGroup]
	definitionTTL time.Duration
	groupTTL      time.Duration
}

// NewDefinitionResolverCache returns an in-memory cache tuned for the
// computation hot path.
func NewDefinitionResolverCache() DefinitionResolverCache {
	return &definitionResolverCache{
		definitions:   NewTTLCache[string, taxdomain.TaxDefinition](),
		groups:        NewTTLCache[string, taxdomain.TaxGroup](),
		definitionTTL: defaultDefinitionTTL,
		groupTTL:      defaultGroupTTL,
	}
}

func (c *definitionResolverCache) GetDefinition(orgID, taxID snowflake.ID) (taxdomain.TaxDefinition, bool) {
	return c.definitions.Get(cacheKey(orgID.String(), taxID.String()))
}

func (c *definitionResolverCache) SetDefinition(orgID snowflake.ID, def taxdomain.TaxDefinition) {
	if def.ID == 0 {
		return
	}
	c.definitions.Set(cacheKey(orgID.String(), def.ID.String()), def, c.definitionTTL)
}

func (c *definitionResolverCache) GetGroup(orgID, groupID snowflake.ID) (taxdomain.TaxGroup, bool) {
	return c.groups.Get(cacheKey(orgID.String(), groupID.String()))
}

func (c *definitionResolverCache) SetGroup(orgID snowflake.ID, group taxdomain.TaxGroup) {
	if group.ID == 0 {
		return
	}
	c.groups.Set(cacheKey(orgID.String(), group.ID.String()), group, c.groupTTL)
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, trimmed)
	}
	return strings.Join(values, "|")
}
