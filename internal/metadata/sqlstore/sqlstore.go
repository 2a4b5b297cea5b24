// Package sqlstore implements the metadata.Store capability set once
// against database/sql + squirrel, shared by the sqlite and postgres
// backends (spec.md §9's "shared helper that compiles SQL once per
// backend"). Each backend supplies a placeholder format and an
// ErrorTranslator for its driver's unique-constraint error shape.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/marcua/ayb/common"
	"github.com/marcua/ayb/internal/metadata"
	"github.com/marcua/ayb/pkg/nullable"
)

// ErrorTranslator maps a backend-specific driver error to a domain
// common.Error. Returning (_, false) means "not a recognized conflict";
// the caller falls back to a generic wrapped error.
type ErrorTranslator interface {
	TranslateConflict(err error, recordKind string) (common.Error, bool)
}

// Store is a metadata.Store backed by *sql.DB.
type Store struct {
	db        *sql.DB
	builder   squirrel.StatementBuilderType
	translate ErrorTranslator
}

// New wraps db, using placeholderFormat (squirrel.Question for sqlite,
// squirrel.Dollar for postgres) and translator for conflict detection.
func New(db *sql.DB, placeholderFormat squirrel.PlaceholderFormat, translator ErrorTranslator) *Store {
	return &Store{
		db:        db,
		builder:   squirrel.StatementBuilder.PlaceholderFormat(placeholderFormat),
		translate: translator,
	}
}

func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func (s *Store) translateErr(err error, recordKind string) error {
	if err == nil {
		return nil
	}

	if domainErr, ok := s.translate.TranslateConflict(err, recordKind); ok {
		return domainErr
	}

	return common.Wrap(common.KindIO, "metadata store operation failed", err)
}

// --- Entity ---

func (s *Store) CreateEntity(ctx context.Context, slug string, entityType metadata.EntityType) (*metadata.Entity, error) {
	slug = lower(slug)

	query, args, err := s.builder.Insert("entities").
		Columns("slug", "type").
		Values(slug, string(entityType)).
		Suffix("RETURNING id, slug, type, display_name, description, organization, location").
		ToSql()
	if err != nil {
		return nil, common.Wrap(common.KindIO, "building insert entity query", err)
	}

	row := s.db.QueryRowContext(ctx, query, args...)

	entity, err := scanEntity(row)
	if err != nil {
		return nil, s.translateErr(err, "entity")
	}

	return entity, nil
}

func (s *Store) GetEntity(ctx context.Context, slug string) (*metadata.Entity, error) {
	slug = lower(slug)

	query, args, err := s.builder.Select("id", "slug", "type", "display_name", "description", "organization", "location").
		From("entities").
		Where(squirrel.Eq{"slug": slug}).
		ToSql()
	if err != nil {
		return nil, common.Wrap(common.KindIO, "building select entity query", err)
	}

	row := s.db.QueryRowContext(ctx, query, args...)

	entity, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.NotFound("entity")
		}

		return nil, common.Wrap(common.KindIO, "fetching entity", err)
	}

	return entity, nil
}

func (s *Store) ListEntities(ctx context.Context) ([]*metadata.Entity, error) {
	query, args, err := s.builder.Select("id", "slug", "type", "display_name", "description", "organization", "location").
		From("entities").
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, common.Wrap(common.KindIO, "building list entities query", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.Wrap(common.KindIO, "listing entities", err)
	}
	defer rows.Close()

	var entities []*metadata.Entity

	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, common.Wrap(common.KindIO, "scanning entity", err)
		}

		entities = append(entities, entity)
	}

	return entities, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner) (*metadata.Entity, error) {
	var e metadata.Entity

	var entityType string

	var displayName, description, organization, location sql.NullString

	if err := row.Scan(&e.ID, &e.Slug, &entityType, &displayName, &description, &organization, &location); err != nil {
		return nil, err
	}

	e.Type = metadata.EntityType(entityType)
	e.DisplayName = nullStringPtr(displayName)
	e.Description = nullStringPtr(description)
	e.Organization = nullStringPtr(organization)
	e.Location = nullStringPtr(location)

	return &e, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}

	v := ns.String

	return &v
}

// UpdateEntityProfile applies three-state semantics per field: absent
// fields are left out of the SET clause entirely, present-null clears the
// column, present-value sets it. Links are handled by the caller's
// profile-store layer, not here (they live outside the relational row).
func (s *Store) UpdateEntityProfile(ctx context.Context, id int64, update metadata.ProfileUpdate) (*metadata.Entity, error) {
	builder := s.builder.Update("entities")

	builder = applyNullableColumn(builder, "display_name", update.DisplayName)
	builder = applyNullableColumn(builder, "description", update.Description)
	builder = applyNullableColumn(builder, "organization", update.Organization)
	builder = applyNullableColumn(builder, "location", update.Location)

	query, args, err := builder.Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, common.Wrap(common.KindIO, "building update entity query", err)
	}

	if len(args) > 0 {
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return nil, common.Wrap(common.KindIO, "updating entity profile", err)
		}
	}

	selectQuery, selectArgs, err := s.builder.Select("id", "slug", "type", "display_name", "description", "organization", "location").
		From("entities").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, common.Wrap(common.KindIO, "building select entity query", err)
	}

	entity, err := scanEntity(s.db.QueryRowContext(ctx, selectQuery, selectArgs...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.NotFound("entity")
		}

		return nil, common.Wrap(common.KindIO, "fetching updated entity", err)
	}

	return entity, nil
}

func applyNullableColumn(b squirrel.UpdateBuilder, column string, n nullable.Nullable[string]) squirrel.UpdateBuilder {
	if !n.ShouldUpdate() {
		return b
	}

	if n.ShouldSetNull() {
		return b.Set(column, nil)
	}

	v, _ := n.Get()

	return b.Set(column, v)
}

// --- Database ---

func (s *Store) CreateDatabase(ctx context.Context, entityID int64, slug string, dbType metadata.DBType, publicSharingLevel metadata.PublicSharingLevel) (*metadata.Database, error) {
	slug = lower(slug)

	if dbType == metadata.DBTypeDuckDB {
		return nil, common.New(common.KindConfigurationError, "duckdb is not supported by the query daemon")
	}

	query, args, err := s.builder.Insert("databases").
		Columns("entity_id", "slug", "db_type", "public_sharing_level").
		Values(entityID, slug, string(dbType), string(publicSharingLevel)).
		Suffix("RETURNING id, entity_id, slug, db_type, public_sharing_level").
		ToSql()
	if err != nil {
		return nil, common.Wrap(common.KindIO, "building insert database query", err)
	}

	database, err := scanDatabase(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, s.translateErr(err, "database")
	}

	return database, nil
}

func (s *Store) GetDatabase(ctx context.Context, entitySlug, databaseSlug string) (*metadata.Database, error) {
	entitySlug = lower(entitySlug)
	databaseSlug = lower(databaseSlug)

	query, args, err := s.builder.Select("databases.id", "databases.entity_id", "databases.slug", "databases.db_type", "databases.public_sharing_level").
		From("databases").
		Join("entities ON entities.id = databases.entity_id").
		Where(squirrel.Eq{"entities.slug": entitySlug, "databases.slug": databaseSlug}).
		ToSql()
	if err != nil {
		return nil, common.Wrap(common.KindIO, "building select database query", err)
	}

	database, err := scanDatabase(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.NotFound("database")
		}

		return nil, common.Wrap(common.KindIO, "fetching database", err)
	}

	return database, nil
}

func (s *Store) ListDatabases(ctx context.Context, entityID int64) ([]*metadata.Database, error) {
	query, args, err := s.builder.Select("id", "entity_id", "slug", "db_type", "public_sharing_level").
		From("databases").
		Where(squirrel.Eq{"entity_id": entityID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, common.Wrap(common.KindIO, "building list databases query", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.Wrap(common.KindIO, "listing databases", err)
	}
	defer rows.Close()

	var databases []*metadata.Database

	for rows.Next() {
		database, err := scanDatabase(rows)
		if err != nil {
			return nil, common.Wrap(common.KindIO, "scanning database", err)
		}

		databases = append(databases, database)
	}

	return databases, rows.Err()
}

func (s *Store) UpdateDatabase(ctx context.Context, id int64, update metadata.DatabaseUpdate) (*metadata.Database, error) {
	builder := s.builder.Update("databases")

	if update.PublicSharingLevel != nil {
		builder = builder.Set("public_sharing_level", string(*update.PublicSharingLevel))
	}

	query, args, err := builder.Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, common.Wrap(common.KindIO, "building update database query", err)
	}

	if len(args) > 0 {
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return nil, common.Wrap(common.KindIO, "updating database", err)
		}
	}

	selectQuery, selectArgs, err := s.builder.Select("id", "entity_id", "slug", "db_type", "public_sharing_level").
		From("databases").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, common.Wrap(common.KindIO, "building select database query", err)
	}

	database, err := scanDatabase(s.db.QueryRowContext(ctx, selectQuery, selectArgs...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.NotFound("database")
		}

		return nil, common.Wrap(common.KindIO, "fetching updated database", err)
	}

	return database, nil
}

func scanDatabase(row scanner) (*metadata.Database, error) {
	var d metadata.Database

	var dbType, sharingLevel string

	if err := row.Scan(&d.ID, &d.EntityID, &d.Slug, &dbType, &sharingLevel); err != nil {
		return nil, err
	}

	d.DBType = metadata.DBType(dbType)
	d.PublicSharingLevel = metadata.PublicSharingLevel(sharingLevel)

	return &d, nil
}

// --- AuthenticationMethod ---

func (s *Store) CreateAuthenticationMethod(ctx context.Context, entityID int64, method metadata.AuthenticationMethod) (*metadata.AuthenticationMethod, error) {
	query, args, err := s.builder.Insert("authentication_methods").
		Columns("entity_id", "type", "status", "email_address").
		Values(entityID, method.Type, string(method.Status), lower(method.EmailAddress)).
		Suffix("RETURNING id, entity_id, type, status, email_address").
		ToSql()
	if err != nil {
		return nil, common.Wrap(common.KindIO, "building insert authentication method query", err)
	}

	row := s.db.QueryRowContext(ctx, query, args...)

	var m metadata.AuthenticationMethod

	var status string

	if err := row.Scan(&m.ID, &m.EntityID, &m.Type, &status, &m.EmailAddress); err != nil {
		return nil, s.translateErr(err, "authentication_method")
	}

	m.Status = metadata.AuthenticationStatus(status)

	return &m, nil
}

func (s *Store) ListAuthenticationMethods(ctx context.Context, entityID int64) ([]*metadata.AuthenticationMethod, error) {
	query, args, err := s.builder.Select("id", "entity_id", "type", "status", "email_address").
		From("authentication_methods").
		Where(squirrel.Eq{"entity_id": entityID}).
		ToSql()
	if err != nil {
		return nil, common.Wrap(common.KindIO, "building list authentication methods query", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.Wrap(common.KindIO, "listing authentication methods", err)
	}
	defer rows.Close()

	var methods []*metadata.AuthenticationMethod

	for rows.Next() {
		var m metadata.AuthenticationMethod

		var status string

		if err := rows.Scan(&m.ID, &m.EntityID, &m.Type, &status, &m.EmailAddress); err != nil {
			return nil, common.Wrap(common.KindIO, "scanning authentication method", err)
		}

		m.Status = metadata.AuthenticationStatus(status)
		methods = append(methods, &m)
	}

	return methods, rows.Err()
}

// --- APIToken ---

func (s *Store) CreateAPIToken(ctx context.Context, token metadata.APIToken) (*metadata.APIToken, error) {
	query, args, err := s.builder.Insert("api_tokens").
		Columns("entity_id", "short_token", "hash", "database_id", "query_permission_level", "app_name", "created_at", "expires_at").
		Values(token.EntityID, token.ShortToken, token.Hash, token.DatabaseID, queryPermissionString(token.QueryPermissionLevel), token.AppName, time.Now(), token.ExpiresAt).
		Suffix("RETURNING id, entity_id, short_token, hash, database_id, query_permission_level, app_name, created_at, expires_at, revoked_at").
		ToSql()
	if err != nil {
		return nil, common.Wrap(common.KindIO, "building insert api token query", err)
	}

	created, err := scanAPIToken(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, s.translateErr(err, "api_token")
	}

	return created, nil
}

func queryPermissionString(level *metadata.QueryPermissionLevel) *string {
	if level == nil {
		return nil
	}

	v := string(*level)

	return &v
}

func (s *Store) GetAPIToken(ctx context.Context, shortToken string) (*metadata.APIToken, error) {
	query, args, err := s.builder.Select("id", "entity_id", "short_token", "hash", "database_id", "query_permission_level", "app_name", "created_at", "expires_at", "revoked_at").
		From("api_tokens").
		Where(squirrel.Eq{"short_token": shortToken}).
		ToSql()
	if err != nil {
		return nil, common.Wrap(common.KindIO, "building select api token query", err)
	}

	token, err := scanAPIToken(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.New(common.KindInvalidToken, "unknown token")
		}

		return nil, common.Wrap(common.KindIO, "fetching api token", err)
	}

	return token, nil
}

func (s *Store) RevokeAPIToken(ctx context.Context, shortToken string) error {
	query, args, err := s.builder.Update("api_tokens").
		Set("revoked_at", time.Now()).
		Where(squirrel.Eq{"short_token": shortToken}, squirrel.Eq{"revoked_at": nil}).
		ToSql()
	if err != nil {
		return common.Wrap(common.KindIO, "building revoke api token query", err)
	}

	// Idempotent: revoking an already-revoked (or unknown) token is not an
	// error, per spec.md §8's round-trip property.
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return common.Wrap(common.KindIO, "revoking api token", err)
	}

	return nil
}

func (s *Store) ListAPITokens(ctx context.Context, entityID int64) ([]*metadata.APIToken, error) {
	query, args, err := s.builder.Select("id", "entity_id", "short_token", "hash", "database_id", "query_permission_level", "app_name", "created_at", "expires_at", "revoked_at").
		From("api_tokens").
		Where(squirrel.Eq{"entity_id": entityID}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, common.Wrap(common.KindIO, "building list api tokens query", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.Wrap(common.KindIO, "listing api tokens", err)
	}
	defer rows.Close()

	var tokens []*metadata.APIToken

	for rows.Next() {
		token, err := scanAPIToken(rows)
		if err != nil {
			return nil, common.Wrap(common.KindIO, "scanning api token", err)
		}

		tokens = append(tokens, token)
	}

	return tokens, rows.Err()
}

func scanAPIToken(row scanner) (*metadata.APIToken, error) {
	var t metadata.APIToken

	var databaseID sql.NullInt64

	var queryPermissionLevel sql.NullString

	var appName sql.NullString

	var expiresAt, revokedAt sql.NullTime

	if err := row.Scan(&t.ID, &t.EntityID, &t.ShortToken, &t.Hash, &databaseID, &queryPermissionLevel, &appName, &t.CreatedAt, &expiresAt, &revokedAt); err != nil {
		return nil, err
	}

	if databaseID.Valid {
		t.DatabaseID = &databaseID.Int64
	}

	if queryPermissionLevel.Valid {
		level := metadata.QueryPermissionLevel(queryPermissionLevel.String)
		t.QueryPermissionLevel = &level
	}

	if appName.Valid {
		t.AppName = &appName.String
	}

	if expiresAt.Valid {
		t.ExpiresAt = &expiresAt.Time
	}

	if revokedAt.Valid {
		t.RevokedAt = &revokedAt.Time
	}

	return &t, nil
}

// --- EntityDatabasePermission ---

func (s *Store) CreatePermission(ctx context.Context, perm metadata.EntityDatabasePermission) (*metadata.EntityDatabasePermission, error) {
	query, args, err := s.builder.Insert("entity_database_permissions").
		Columns("entity_id", "database_id", "sharing_level").
		Values(perm.EntityID, perm.DatabaseID, string(perm.SharingLevel)).
		Suffix("RETURNING entity_id, database_id, sharing_level").
		ToSql()
	if err != nil {
		return nil, common.Wrap(common.KindIO, "building insert permission query", err)
	}

	created, err := scanPermission(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, s.translateErr(err, "entity_database_permission")
	}

	return created, nil
}

func (s *Store) DeletePermission(ctx context.Context, entityID, databaseID int64) error {
	query, args, err := s.builder.Delete("entity_database_permissions").
		Where(squirrel.Eq{"entity_id": entityID, "database_id": databaseID}).
		ToSql()
	if err != nil {
		return common.Wrap(common.KindIO, "building delete permission query", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return common.Wrap(common.KindIO, "deleting permission", err)
	}

	return nil
}

func (s *Store) UpdatePermission(ctx context.Context, entityID, databaseID int64, level metadata.SharingLevel) (*metadata.EntityDatabasePermission, error) {
	query, args, err := s.builder.Update("entity_database_permissions").
		Set("sharing_level", string(level)).
		Where(squirrel.Eq{"entity_id": entityID, "database_id": databaseID}).
		Suffix("RETURNING entity_id, database_id, sharing_level").
		ToSql()
	if err != nil {
		return nil, common.Wrap(common.KindIO, "building update permission query", err)
	}

	updated, err := scanPermission(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.NotFound("entity_database_permission")
		}

		return nil, common.Wrap(common.KindIO, "updating permission", err)
	}

	return updated, nil
}

func (s *Store) GetPermission(ctx context.Context, entityID, databaseID int64) (*metadata.EntityDatabasePermission, error) {
	query, args, err := s.builder.Select("entity_id", "database_id", "sharing_level").
		From("entity_database_permissions").
		Where(squirrel.Eq{"entity_id": entityID, "database_id": databaseID}).
		ToSql()
	if err != nil {
		return nil, common.Wrap(common.KindIO, "building select permission query", err)
	}

	perm, err := scanPermission(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.NotFound("entity_database_permission")
		}

		return nil, common.Wrap(common.KindIO, "fetching permission", err)
	}

	return perm, nil
}

func (s *Store) ListPermissionsByDatabase(ctx context.Context, databaseID int64) ([]*metadata.EntityDatabasePermission, error) {
	query, args, err := s.builder.Select("entity_id", "database_id", "sharing_level").
		From("entity_database_permissions").
		Where(squirrel.Eq{"database_id": databaseID}).
		ToSql()
	if err != nil {
		return nil, common.Wrap(common.KindIO, "building list permissions query", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.Wrap(common.KindIO, "listing permissions", err)
	}
	defer rows.Close()

	var perms []*metadata.EntityDatabasePermission

	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, common.Wrap(common.KindIO, "scanning permission", err)
		}

		perms = append(perms, perm)
	}

	return perms, rows.Err()
}

func scanPermission(row scanner) (*metadata.EntityDatabasePermission, error) {
	var p metadata.EntityDatabasePermission

	var level string

	if err := row.Scan(&p.EntityID, &p.DatabaseID, &level); err != nil {
		return nil, err
	}

	p.SharingLevel = metadata.SharingLevel(level)

	return &p, nil
}

// --- OAuthAuthorizationRequest ---

func (s *Store) CreateOAuthAuthorizationRequest(ctx context.Context, req metadata.OAuthAuthorizationRequest) (*metadata.OAuthAuthorizationRequest, error) {
	query, args, err := s.builder.Insert("oauth_authorization_requests").
		Columns("code", "entity_id", "database_id", "code_challenge", "redirect_uri", "app_name", "requested_query_permission_level", "granted_query_permission_level", "expires_at").
		Values(req.Code, req.EntityID, req.DatabaseID, req.CodeChallenge, req.RedirectURI, req.AppName, string(req.RequestedQueryPermissionLevel), string(req.GrantedQueryPermissionLevel), req.ExpiresAt).
		ToSql()
	if err != nil {
		return nil, common.Wrap(common.KindIO, "building insert oauth request query", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, s.translateErr(err, "oauth_authorization_request")
	}

	return &req, nil
}

func (s *Store) GetOAuthAuthorizationRequest(ctx context.Context, code string) (*metadata.OAuthAuthorizationRequest, error) {
	query, args, err := s.builder.Select("code", "entity_id", "database_id", "code_challenge", "redirect_uri", "app_name", "requested_query_permission_level", "granted_query_permission_level", "expires_at", "used_at").
		From("oauth_authorization_requests").
		Where(squirrel.Eq{"code": code}).
		ToSql()
	if err != nil {
		return nil, common.Wrap(common.KindIO, "building select oauth request query", err)
	}

	row := s.db.QueryRowContext(ctx, query, args...)

	var req metadata.OAuthAuthorizationRequest

	var requested, granted string

	var usedAt sql.NullTime

	if err := row.Scan(&req.Code, &req.EntityID, &req.DatabaseID, &req.CodeChallenge, &req.RedirectURI, &req.AppName, &requested, &granted, &req.ExpiresAt, &usedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.NotFound("oauth_authorization_request")
		}

		return nil, common.Wrap(common.KindIO, "fetching oauth request", err)
	}

	req.RequestedQueryPermissionLevel = metadata.QueryPermissionLevel(requested)
	req.GrantedQueryPermissionLevel = metadata.QueryPermissionLevel(granted)

	if usedAt.Valid {
		req.UsedAt = &usedAt.Time
	}

	return &req, nil
}

func (s *Store) MarkOAuthAuthorizationRequestUsed(ctx context.Context, code string) error {
	query, args, err := s.builder.Update("oauth_authorization_requests").
		Set("used_at", time.Now()).
		Where(squirrel.Eq{"code": code}).
		ToSql()
	if err != nil {
		return common.Wrap(common.KindIO, "building mark oauth request used query", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return common.Wrap(common.KindIO, "marking oauth request used", err)
	}

	return nil
}
