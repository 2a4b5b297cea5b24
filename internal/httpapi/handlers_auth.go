package httpapi

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/marcua/ayb/common"
	aybhttp "github.com/marcua/ayb/common/net/http"
	"github.com/marcua/ayb/internal/auth"
	"github.com/marcua/ayb/internal/email"
	"github.com/marcua/ayb/internal/metadata"
)

// handleRegister begins registration (spec.md §4.7): rejects if the entity
// already has a verified method whose email differs from the incoming
// one, otherwise emails a confirmation token and returns 200 regardless
// of whether the entity is new (so the response never reveals account
// existence).
func (s *Server) handleRegister(c *fiber.Ctx) error {
	slug := strings.ToLower(c.Get("entity"))
	emailAddress := strings.ToLower(c.Get("email-address"))
	entityType := metadata.EntityType(c.Get("entity-type"))

	if slug == "" || emailAddress == "" {
		return aybhttp.WithError(c, common.New(common.KindConfigurationError, "entity and email-address headers are required"))
	}

	if entityType != metadata.EntityTypeUser && entityType != metadata.EntityTypeOrganization {
		return aybhttp.WithError(c, common.New(common.KindConfigurationError, "entity-type must be user or organization"))
	}

	ctx := c.UserContext()

	if entity, err := s.deps.Store.GetEntity(ctx, slug); err == nil {
		methods, err := s.deps.Store.ListAuthenticationMethods(ctx, entity.ID)
		if err != nil {
			return aybhttp.WithError(c, err)
		}

		for _, m := range methods {
			if m.Status == metadata.AuthenticationStatusVerified && m.EmailAddress != emailAddress {
				return aybhttp.WithError(c, common.New(common.KindNoAccess, "entity is already registered with a different email address"))
			}
		}
	}

	return s.sendConfirmationToken(c, slug, entityType, emailAddress)
}

// handleLogIn begins login: emails a confirmation token to the entity's
// verified email address, if it has one.
func (s *Server) handleLogIn(c *fiber.Ctx) error {
	slug := strings.ToLower(c.Get("entity"))
	if slug == "" {
		return aybhttp.WithError(c, common.New(common.KindConfigurationError, "entity header is required"))
	}

	ctx := c.UserContext()

	entity, err := s.deps.Store.GetEntity(ctx, slug)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	methods, err := s.deps.Store.ListAuthenticationMethods(ctx, entity.ID)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	for _, m := range methods {
		if m.Status == metadata.AuthenticationStatusVerified {
			return s.sendConfirmationToken(c, entity.Slug, entity.Type, m.EmailAddress)
		}
	}

	return aybhttp.WithError(c, common.New(common.KindNoAccess, "entity has no verified login method"))
}

func (s *Server) sendConfirmationToken(c *fiber.Ctx, slug string, entityType metadata.EntityType, emailAddress string) error {
	token, err := auth.EncryptConfirmationToken(auth.ConfirmationPayload{
		Version:      1,
		EntitySlug:   slug,
		EntityType:   entityType,
		EmailAddress: emailAddress,
	}, s.deps.Confirmation.Key)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	if err := email.SendConfirmationToken(s.deps.EmailSender, emailAddress, token); err != nil {
		return aybhttp.WithError(c, err)
	}

	return c.JSON(fiber.Map{"status": "ok"})
}

// handleConfirm finishes registration or login: decrypts the token,
// upserts the entity, reconciles its verified method, and mints a fresh
// API token.
func (s *Server) handleConfirm(c *fiber.Ctx) error {
	presented := c.Get("authentication-token")
	if presented == "" {
		return aybhttp.WithError(c, common.New(common.KindInvalidToken, "missing authentication-token header"))
	}

	payload, err := auth.DecryptConfirmationToken(presented, s.deps.Confirmation.Key, s.deps.Confirmation.TTL)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	ctx := c.UserContext()

	entity, err := s.deps.Store.GetEntity(ctx, payload.EntitySlug)
	if err != nil {
		entity, err = s.deps.Store.CreateEntity(ctx, payload.EntitySlug, payload.EntityType)
		if err != nil {
			return aybhttp.WithError(c, err)
		}
	}

	methods, err := s.deps.Store.ListAuthenticationMethods(ctx, entity.ID)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	matched := false
	for _, m := range methods {
		if m.Status != metadata.AuthenticationStatusVerified {
			continue
		}

		if m.EmailAddress == payload.EmailAddress {
			matched = true
			continue
		}

		return aybhttp.WithError(c, common.New(common.KindNoAccess, "entity is already verified with a different email address"))
	}

	if !matched {
		_, err := s.deps.Store.CreateAuthenticationMethod(ctx, entity.ID, metadata.AuthenticationMethod{
			Type:         "email",
			Status:       metadata.AuthenticationStatusVerified,
			EmailAddress: payload.EmailAddress,
		})
		if err != nil {
			return aybhttp.WithError(c, err)
		}
	}

	generated, err := auth.GenerateAPIToken(entity.ID)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	record, err := s.deps.Store.CreateAPIToken(ctx, generated.Record)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	return c.JSON(apiTokenResponse(record, generated.Token))
}

// handleOAuthToken exchanges a PKCE code for a scoped API token capped at
// the originally granted permission level (spec.md §4.7).
func (s *Server) handleOAuthToken(c *fiber.Ctx) error {
	var req struct {
		Code         string `json:"code"`
		CodeVerifier string `json:"code_verifier"`
		RedirectURI  string `json:"redirect_uri"`
	}

	if err := c.BodyParser(&req); err != nil {
		return aybhttp.WithError(c, common.New(common.KindConfigurationError, "invalid request body"))
	}

	ctx := c.UserContext()

	invalid := common.New(common.KindInvalidToken, "invalid or expired authorization code")

	authReq, err := s.deps.Store.GetOAuthAuthorizationRequest(ctx, req.Code)
	if err != nil {
		return aybhttp.WithError(c, invalid)
	}

	if authReq.UsedAt != nil || time.Now().After(authReq.ExpiresAt) {
		return aybhttp.WithError(c, invalid)
	}

	if authReq.RedirectURI != req.RedirectURI {
		return aybhttp.WithError(c, invalid)
	}

	if !auth.VerifyPKCE(req.CodeVerifier, authReq.CodeChallenge) {
		return aybhttp.WithError(c, invalid)
	}

	if err := s.deps.Store.MarkOAuthAuthorizationRequestUsed(ctx, req.Code); err != nil {
		return aybhttp.WithError(c, err)
	}

	appName := authReq.AppName

	generated, err := auth.GenerateScopedAPIToken(authReq.EntityID, authReq.DatabaseID, authReq.GrantedQueryPermissionLevel, &appName)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	record, err := s.deps.Store.CreateAPIToken(ctx, generated.Record)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	return c.JSON(apiTokenResponse(record, generated.Token))
}

func apiTokenResponse(record *metadata.APIToken, plaintext string) fiber.Map {
	return fiber.Map{
		"token":       plaintext,
		"short_token": record.ShortToken,
	}
}
