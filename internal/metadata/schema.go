package metadata

// Schema is the relational part of the metadata store (spec.md §4.5):
// entities, their authentication methods, the databases they own,
// grants between entities and databases, API tokens, and short-lived
// OAuth/PKCE exchange records. Entity profile link lists live in the
// document store instead (SPEC_FULL.md §3) and have no table here.
//
// Each backend embeds this as a single idempotent statement batch
// rather than a versioned migration chain: the schema is small and
// has no release history to replay yet. A `schema_migrations`-style
// ledger table can be introduced the day a column needs to change
// under running deployments.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS entities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	slug TEXT NOT NULL UNIQUE,
	type TEXT NOT NULL,
	display_name TEXT,
	description TEXT,
	organization TEXT,
	location TEXT
);

CREATE TABLE IF NOT EXISTS authentication_methods (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id INTEGER NOT NULL REFERENCES entities(id),
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	email_address TEXT NOT NULL,
	UNIQUE(type, email_address)
);

CREATE TABLE IF NOT EXISTS databases (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id INTEGER NOT NULL REFERENCES entities(id),
	slug TEXT NOT NULL,
	db_type TEXT NOT NULL,
	public_sharing_level TEXT NOT NULL DEFAULT 'no-access',
	UNIQUE(entity_id, slug)
);

CREATE TABLE IF NOT EXISTS entity_database_permissions (
	entity_id INTEGER NOT NULL REFERENCES entities(id),
	database_id INTEGER NOT NULL REFERENCES databases(id),
	sharing_level TEXT NOT NULL,
	PRIMARY KEY (entity_id, database_id)
);

CREATE TABLE IF NOT EXISTS api_tokens (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id INTEGER NOT NULL REFERENCES entities(id),
	short_token TEXT NOT NULL UNIQUE,
	hash TEXT NOT NULL,
	database_id INTEGER REFERENCES databases(id),
	query_permission_level TEXT,
	app_name TEXT,
	created_at TIMESTAMP NOT NULL,
	expires_at TIMESTAMP,
	revoked_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS oauth_authorization_requests (
	code TEXT PRIMARY KEY,
	entity_id INTEGER NOT NULL REFERENCES entities(id),
	database_id INTEGER NOT NULL REFERENCES databases(id),
	code_challenge TEXT NOT NULL,
	redirect_uri TEXT NOT NULL,
	app_name TEXT NOT NULL,
	requested_query_permission_level TEXT NOT NULL,
	granted_query_permission_level TEXT NOT NULL,
	expires_at TIMESTAMP NOT NULL,
	used_at TIMESTAMP
);
`

// PostgresSchema is the same shape in Postgres DDL: identity columns
// instead of AUTOINCREMENT, and an explicit TIMESTAMPTZ.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS entities (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	slug TEXT NOT NULL UNIQUE,
	type TEXT NOT NULL,
	display_name TEXT,
	description TEXT,
	organization TEXT,
	location TEXT
);

CREATE TABLE IF NOT EXISTS authentication_methods (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	entity_id BIGINT NOT NULL REFERENCES entities(id),
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	email_address TEXT NOT NULL,
	UNIQUE(type, email_address)
);

CREATE TABLE IF NOT EXISTS databases (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	entity_id BIGINT NOT NULL REFERENCES entities(id),
	slug TEXT NOT NULL,
	db_type TEXT NOT NULL,
	public_sharing_level TEXT NOT NULL DEFAULT 'no-access',
	UNIQUE(entity_id, slug)
);

CREATE TABLE IF NOT EXISTS entity_database_permissions (
	entity_id BIGINT NOT NULL REFERENCES entities(id),
	database_id BIGINT NOT NULL REFERENCES databases(id),
	sharing_level TEXT NOT NULL,
	PRIMARY KEY (entity_id, database_id)
);

CREATE TABLE IF NOT EXISTS api_tokens (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	entity_id BIGINT NOT NULL REFERENCES entities(id),
	short_token TEXT NOT NULL UNIQUE,
	hash TEXT NOT NULL,
	database_id BIGINT REFERENCES databases(id),
	query_permission_level TEXT,
	app_name TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ,
	revoked_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS oauth_authorization_requests (
	code TEXT PRIMARY KEY,
	entity_id BIGINT NOT NULL REFERENCES entities(id),
	database_id BIGINT NOT NULL REFERENCES databases(id),
	code_challenge TEXT NOT NULL,
	redirect_uri TEXT NOT NULL,
	app_name TEXT NOT NULL,
	requested_query_permission_level TEXT NOT NULL,
	granted_query_permission_level TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	used_at TIMESTAMPTZ
);
`
