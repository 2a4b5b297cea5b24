package httpapi

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/marcua/ayb/common"
	aybhttp "github.com/marcua/ayb/common/net/http"
	"github.com/marcua/ayb/internal/auth"
	"github.com/marcua/ayb/internal/metadata"
)

const contextKeyToken = "ayb_api_token"

// bearerAuth resolves the Authorization header to an APIToken, caching
// successful lookups (SPEC_FULL.md §4.17), and attaches it to the request
// context for downstream handlers (spec.md §4.8). metadata.Store already
// satisfies auth.APITokenStore, so validation reads through to it directly
// on a cache miss.
func (s *Server) bearerAuth(c *fiber.Ctx) error {
	ctx := c.UserContext()

	presented, ok := auth.ExtractBearerToken(c.Get(fiber.HeaderAuthorization))
	if !ok {
		return aybhttp.WithError(c, common.New(common.KindInvalidToken, "missing bearer token"))
	}

	short, _, err := auth.ParseToken(presented)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	if cached, ok := s.deps.Cache.GetToken(ctx, short); ok {
		if token, err := auth.ValidateAPIToken(ctx, singleTokenLookup{*cached}, presented); err == nil {
			c.Locals(contextKeyToken, token)
			return c.Next()
		}
	}

	token, err := auth.ValidateAPIToken(ctx, s.deps.Store, presented)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	s.deps.Cache.PutToken(ctx, *token)

	c.Locals(contextKeyToken, token)

	return c.Next()
}

func tokenFromContext(c *fiber.Ctx) *metadata.APIToken {
	token, _ := c.Locals(contextKeyToken).(*metadata.APIToken)
	return token
}

// singleTokenLookup adapts a single cached record into an
// auth.APITokenStore so a cache hit can still go through the same
// constant-time validation path as a store lookup.
type singleTokenLookup struct {
	token metadata.APIToken
}

func (s singleTokenLookup) GetAPIToken(_ context.Context, shortToken string) (*metadata.APIToken, error) {
	if shortToken != s.token.ShortToken {
		return nil, common.New(common.KindRecordNotFound, "token not found")
	}

	return &s.token, nil
}
