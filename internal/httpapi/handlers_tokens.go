package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/marcua/ayb/common"
	aybhttp "github.com/marcua/ayb/common/net/http"
	"github.com/marcua/ayb/internal/eventing"
	"github.com/marcua/ayb/internal/metadata"
)

// handleListTokens implements GET /tokens: the caller's own tokens, never
// another entity's (spec.md §6).
func (s *Server) handleListTokens(c *fiber.Ctx) error {
	token := tokenFromContext(c)

	tokens, err := s.deps.Store.ListAPITokens(c.UserContext(), token.EntityID)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	out := make([]fiber.Map, len(tokens))
	for i, t := range tokens {
		out[i] = tokenSummary(t)
	}

	return c.JSON(out)
}

func tokenSummary(t *metadata.APIToken) fiber.Map {
	return fiber.Map{
		"short_token":            t.ShortToken,
		"database_id":            t.DatabaseID,
		"query_permission_level": t.QueryPermissionLevel,
		"app_name":               t.AppName,
		"created_at":             t.CreatedAt,
		"expires_at":             t.ExpiresAt,
		"revoked_at":             t.RevokedAt,
	}
}

// handleRevokeToken implements DELETE /tokens/{short}: only the owning
// entity may revoke one of its own tokens.
func (s *Server) handleRevokeToken(c *fiber.Ctx) error {
	ctx := c.UserContext()
	token := tokenFromContext(c)

	short := c.Params("short")

	existing, err := s.deps.Store.GetAPIToken(ctx, short)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	if existing.EntityID != token.EntityID {
		return aybhttp.WithError(c, common.New(common.KindNoAccess, "cannot revoke another entity's token"))
	}

	if err := s.deps.Store.RevokeAPIToken(ctx, short); err != nil {
		return aybhttp.WithError(c, err)
	}

	s.deps.Cache.InvalidateToken(ctx, short)

	s.deps.Events.Publish(ctx, eventing.EventTokenRevoked, map[string]string{
		"short_token": short,
	})

	return c.JSON(fiber.Map{"status": "ok"})
}
