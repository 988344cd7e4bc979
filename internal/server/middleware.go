package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/taxline/internal/observability/context"
	"github.com/smallbiznis/taxline/internal/orgcontext"
)

// OrgContext resolves the acting organization from the X-Org-Id header and
// stores it on the request context. Requests without a header fall back to
// the configured default organization. When the caller identifies itself via
// X-Actor-Id, the actor travels on the context so logs can attribute the
// request.
func (s *Server) OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := s.cfg.DefaultOrgID
		if header := strings.TrimSpace(c.GetHeader("X-Org-Id")); header != "" {
			parsed, err := snowflake.ParseString(header)
			if err != nil || parsed == 0 {
				AbortWithError(c, newValidationError("org_id", "invalid_org_id", "invalid org id"))
				return
			}
			orgID = int64(parsed)
		}

		if orgID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), orgID)
		ctx = obscontext.WithOrgID(ctx, snowflake.ID(orgID).String())
		if actorID := strings.TrimSpace(c.GetHeader("X-Actor-Id")); actorID != "" {
			actorType := strings.TrimSpace(c.GetHeader("X-Actor-Type"))
			if actorType == "" {
				actorType = "user"
			}
			ctx = obscontext.WithActor(ctx, actorType, actorID)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
