package httpapi

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/marcua/ayb/common"
	aybhttp "github.com/marcua/ayb/common/net/http"
	"github.com/marcua/ayb/internal/metadata"
	"github.com/marcua/ayb/internal/permissions"
	"github.com/marcua/ayb/pkg/nullable"
)

// handleGetEntity implements GET /entity/{entity}: profile fields plus
// every database the caller is entitled to discover (spec.md §6, §4.6's
// CanDiscoverDatabase).
func (s *Server) handleGetEntity(c *fiber.Ctx) error {
	ctx := c.UserContext()
	token := tokenFromContext(c)

	entity, err := s.deps.Store.GetEntity(ctx, c.Params("entity"))
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	links, err := s.deps.Profiles.GetLinks(ctx, entity.ID)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	databases, err := s.deps.Store.ListDatabases(ctx, entity.ID)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	visible := make([]fiber.Map, 0, len(databases))

	for _, db := range databases {
		var grant *metadata.EntityDatabasePermission
		if token != nil {
			grant, _ = s.deps.Store.GetPermission(ctx, token.EntityID, db.ID)
		}

		if token != nil && permissions.CanDiscoverDatabase(token.EntityID, db, grant) {
			visible = append(visible, databaseResponse(db))
		}
	}

	return c.JSON(fiber.Map{
		"slug":         entity.Slug,
		"type":         entity.Type,
		"display_name": entity.DisplayName,
		"description":  entity.Description,
		"organization": entity.Organization,
		"location":     entity.Location,
		"links":        links,
		"databases":    visible,
	})
}

// profileUpdateRequest mirrors metadata.ProfileUpdate's three-state fields
// for JSON binding; nullable.Nullable decodes absent/null/value itself.
type profileUpdateRequest struct {
	DisplayName  nullable.Nullable[string]        `json:"display_name"`
	Description  nullable.Nullable[string]        `json:"description"`
	Organization nullable.Nullable[string]        `json:"organization"`
	Location     nullable.Nullable[string]        `json:"location"`
	Links        nullable.Nullable[[]metadata.Link] `json:"links"`
}

var relMeHref = regexp.MustCompile(`<a\b[^>]*\brel=["']me["'][^>]*\bhref=["']([^"']+)["']`)

// handleUpdateEntity implements PATCH /entity/{entity}: three-state
// profile update, with live link verification when a public URL for the
// profile is configured (spec.md §4.8).
func (s *Server) handleUpdateEntity(c *fiber.Ctx) error {
	ctx := c.UserContext()
	token := tokenFromContext(c)

	entity, err := s.deps.Store.GetEntity(ctx, c.Params("entity"))
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	if token == nil || token.EntityID != entity.ID {
		return aybhttp.WithError(c, common.New(common.KindNoAccess, "cannot update another entity's profile"))
	}

	var req profileUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return aybhttp.WithError(c, common.New(common.KindConfigurationError, "invalid request body"))
	}

	update := metadata.ProfileUpdate{
		DisplayName:  req.DisplayName,
		Description:  req.Description,
		Organization: req.Organization,
		Location:     req.Location,
	}

	updated, err := s.deps.Store.UpdateEntityProfile(ctx, entity.ID, update)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	links, linksErr := s.resolveLinks(req.Links, updated.Slug)
	if linksErr != nil {
		return aybhttp.WithError(c, linksErr)
	}

	if links != nil {
		if err := s.deps.Profiles.PutLinks(ctx, entity.ID, links); err != nil {
			return aybhttp.WithError(c, err)
		}
	} else {
		links, err = s.deps.Profiles.GetLinks(ctx, entity.ID)
		if err != nil {
			return aybhttp.WithError(c, err)
		}
	}

	return c.JSON(fiber.Map{
		"slug":         updated.Slug,
		"type":         updated.Type,
		"display_name": updated.DisplayName,
		"description":  updated.Description,
		"organization": updated.Organization,
		"location":     updated.Location,
		"links":        links,
	})
}

// resolveLinks returns nil, nil when the links field wasn't present in the
// request (caller should keep the stored links untouched). When present,
// it verifies each link against the configured public profile URL before
// returning the updated slice.
func (s *Server) resolveLinks(field nullable.Nullable[[]metadata.Link], slug string) ([]metadata.Link, error) {
	if !field.ShouldUpdate() {
		return nil, nil
	}

	if field.ShouldSetNull() {
		return []metadata.Link{}, nil
	}

	links := field.Value
	if s.deps.PublicURL == "" {
		return links, nil
	}

	profileURL := strings.TrimRight(s.deps.PublicURL, "/") + "/" + slug

	resolved := make([]metadata.Link, len(links))
	for i, link := range links {
		resolved[i] = metadata.Link{URL: link.URL, Verified: verifyRelMeLink(link.URL, profileURL)}
	}

	return resolved, nil
}

// verifyRelMeLink fetches url and checks for an `<a rel="me"
// href="profileURL">` element (spec.md §4.8's rel=me verification).
func verifyRelMeLink(url, profileURL string) bool {
	resp, err := http.Get(url)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	body := make([]byte, 64*1024)

	n, _ := resp.Body.Read(body)

	matches := relMeHref.FindAllSubmatch(body[:n], -1)
	for _, m := range matches {
		if string(m[1]) == profileURL {
			return true
		}
	}

	return false
}
