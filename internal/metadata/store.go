package metadata

import (
	"context"

	"github.com/marcua/ayb/pkg/nullable"
)

// ProfileUpdate carries the three-state PATCH semantics spec.md §4.8
// requires for update_profile: absent=leave, present-null=clear,
// present-value=set.
type ProfileUpdate struct {
	DisplayName  nullable.Nullable[string]
	Description  nullable.Nullable[string]
	Organization nullable.Nullable[string]
	Location     nullable.Nullable[string]
	Links        nullable.Nullable[[]Link]
}

// DatabaseUpdate carries the present=set-only PATCH semantics spec.md
// §4.8 specifies for update_database (no null-setting in this core).
type DatabaseUpdate struct {
	PublicSharingLevel *PublicSharingLevel
}

// Store is the metadata-store capability set from spec.md §4.5. Multiple
// backends (embedded sqlite, external postgres) implement it with
// identical semantics, including case-folding of slugs.
type Store interface {
	CreateEntity(ctx context.Context, slug string, entityType EntityType) (*Entity, error)
	GetEntity(ctx context.Context, slug string) (*Entity, error)
	UpdateEntityProfile(ctx context.Context, id int64, update ProfileUpdate) (*Entity, error)
	ListEntities(ctx context.Context) ([]*Entity, error)

	CreateDatabase(ctx context.Context, entityID int64, slug string, dbType DBType, publicSharingLevel PublicSharingLevel) (*Database, error)
	GetDatabase(ctx context.Context, entitySlug, databaseSlug string) (*Database, error)
	ListDatabases(ctx context.Context, entityID int64) ([]*Database, error)
	UpdateDatabase(ctx context.Context, id int64, update DatabaseUpdate) (*Database, error)

	CreateAuthenticationMethod(ctx context.Context, entityID int64, method AuthenticationMethod) (*AuthenticationMethod, error)
	ListAuthenticationMethods(ctx context.Context, entityID int64) ([]*AuthenticationMethod, error)

	CreateAPIToken(ctx context.Context, token APIToken) (*APIToken, error)
	GetAPIToken(ctx context.Context, shortToken string) (*APIToken, error)
	RevokeAPIToken(ctx context.Context, shortToken string) error
	ListAPITokens(ctx context.Context, entityID int64) ([]*APIToken, error)

	CreatePermission(ctx context.Context, perm EntityDatabasePermission) (*EntityDatabasePermission, error)
	DeletePermission(ctx context.Context, entityID, databaseID int64) error
	UpdatePermission(ctx context.Context, entityID, databaseID int64, level SharingLevel) (*EntityDatabasePermission, error)
	ListPermissionsByDatabase(ctx context.Context, databaseID int64) ([]*EntityDatabasePermission, error)
	GetPermission(ctx context.Context, entityID, databaseID int64) (*EntityDatabasePermission, error)

	CreateOAuthAuthorizationRequest(ctx context.Context, req OAuthAuthorizationRequest) (*OAuthAuthorizationRequest, error)
	GetOAuthAuthorizationRequest(ctx context.Context, code string) (*OAuthAuthorizationRequest, error)
	MarkOAuthAuthorizationRequestUsed(ctx context.Context, code string) error
}
