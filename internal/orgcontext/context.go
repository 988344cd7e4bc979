// Package orgcontext carries the acting organization through request
// contexts. Every service entrypoint resolves the org from its context and
// refuses to run without one.
package orgcontext

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type orgIDKey struct{}

// WithOrgID stores the organization ID on the context.
func WithOrgID(ctx context.Context, orgID int64) context.Context {
	return context.WithValue(ctx, orgIDKey{}, orgID)
}

// OrgIDFromContext returns the organization the request acts for, if one was
// stored by WithOrgID.
func OrgIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}
	orgID, ok := ctx.Value(orgIDKey{}).(int64)
	if !ok {
		return 0, false
	}
	return snowflake.ID(orgID), true
}
