// Package metadata defines the metadata-store capability set (spec.md
// §4.5) and its domain models (spec.md §3), shared by the sqlite and
// postgres backends.
package metadata

import "time"

type EntityType string

const (
	EntityTypeUser         EntityType = "user"
	EntityTypeOrganization EntityType = "organization"
)

// Link is one entry in an entity profile's ordered links sequence,
// persisted in the document store per SPEC_FULL.md §3.
type Link struct {
	URL      string `json:"url" bson:"url"`
	Verified bool   `json:"verified" bson:"verified"`
}

// Entity is a registered user or organization.
type Entity struct {
	ID          int64
	Slug        string
	Type        EntityType
	DisplayName *string
	Description *string
	Organization *string
	Location    *string
	// Links lives in the document store, not the relational row; it is
	// populated by the caller when assembling a profile response.
	Links []Link
}

type AuthenticationStatus string

const (
	AuthenticationStatusVerified AuthenticationStatus = "verified"
	AuthenticationStatusRevoked AuthenticationStatus = "revoked"
)

// AuthenticationMethod belongs to an entity.
type AuthenticationMethod struct {
	ID           int64
	EntityID     int64
	Type         string // only "email" in this core
	Status       AuthenticationStatus
	EmailAddress string
}

type DBType string

const (
	DBTypeSQLite DBType = "sqlite"
	DBTypeDuckDB DBType = "duckdb"
)

type PublicSharingLevel string

const (
	PublicSharingNoAccess PublicSharingLevel = "no-access"
	PublicSharingMetadata PublicSharingLevel = "metadata"
	PublicSharingFork     PublicSharingLevel = "fork"
	PublicSharingReadOnly PublicSharingLevel = "read-only"
)

// Database is one hosted SQL database file.
type Database struct {
	ID                 int64
	EntityID           int64
	Slug               string
	DBType             DBType
	PublicSharingLevel PublicSharingLevel
}

type SharingLevel string

const (
	SharingReadOnly  SharingLevel = "read-only"
	SharingReadWrite SharingLevel = "read-write"
	SharingManager   SharingLevel = "manager"
)

// EntityDatabasePermission is a grant from a database's owner to another
// entity. no-access is expressed by deleting the row, never by a value.
type EntityDatabasePermission struct {
	EntityID     int64
	DatabaseID   int64
	SharingLevel SharingLevel
}

type QueryPermissionLevel string

const (
	QueryPermissionReadOnly  QueryPermissionLevel = "read-only"
	QueryPermissionReadWrite QueryPermissionLevel = "read-write"
)

// APIToken is a bearer credential scoped to an entity and, optionally, a
// single database and permission level.
type APIToken struct {
	ID                   int64
	EntityID             int64
	ShortToken           string
	Hash                 string
	DatabaseID           *int64
	QueryPermissionLevel *QueryPermissionLevel
	AppName              *string
	CreatedAt            time.Time
	ExpiresAt            *time.Time
	RevokedAt            *time.Time
}

// IsValid reports whether the token is usable right now.
func (t APIToken) IsValid(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}

	if t.ExpiresAt != nil && !t.ExpiresAt.After(now) {
		return false
	}

	return true
}

// OAuthAuthorizationRequest is the short-lived PKCE exchange record.
type OAuthAuthorizationRequest struct {
	Code                           string
	EntityID                      int64
	DatabaseID                    int64
	CodeChallenge                 string
	RedirectURI                   string
	AppName                       string
	RequestedQueryPermissionLevel QueryPermissionLevel
	GrantedQueryPermissionLevel   QueryPermissionLevel
	ExpiresAt                     time.Time
	UsedAt                        *time.Time
}
