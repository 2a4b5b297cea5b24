// Package permissions implements the pure, stateless access-control
// predicates from spec.md §4.6. None of these functions touch storage;
// callers look up the relevant Entity/Database/Permission/APIToken records
// first and pass them in, keeping the rules independently testable.
package permissions

import (
	"github.com/marcua/ayb/internal/metadata"
)

// CanCreateDatabase reports whether callerEntityID may create a database
// owned by targetEntityID. Only self-service creation is allowed in this
// core: an entity creates databases for itself, never on behalf of another.
func CanCreateDatabase(callerEntityID, targetEntityID int64) bool {
	return callerEntityID == targetEntityID
}

// CanManageDatabase reports whether callerEntityID has owner-level control
// over database: renaming it, changing its public sharing level,
// granting/revoking permissions, or deleting it. True if the caller is the
// owner, or holds a manager grant.
func CanManageDatabase(callerEntityID int64, database *metadata.Database, grant *metadata.EntityDatabasePermission) bool {
	if database == nil {
		return false
	}

	if callerEntityID == database.EntityID {
		return true
	}

	return grant != nil && grant.EntityID == callerEntityID && grant.SharingLevel == metadata.SharingManager
}

// CanManageSnapshots reports whether callerEntityID may list, take, or
// restore snapshots of database. Identical to CanManageDatabase.
func CanManageSnapshots(callerEntityID int64, database *metadata.Database, grant *metadata.EntityDatabasePermission) bool {
	return CanManageDatabase(callerEntityID, database, grant)
}

// CanDiscoverDatabase reports whether callerEntityID may see that database
// exists and read its public details: true if the caller can manage it, or
// holds any grant at all, or the database's public_sharing_level isn't
// no-access.
func CanDiscoverDatabase(callerEntityID int64, database *metadata.Database, grant *metadata.EntityDatabasePermission) bool {
	if database == nil {
		return false
	}

	if CanManageDatabase(callerEntityID, database, grant) {
		return true
	}

	if grant != nil && grant.EntityID == callerEntityID {
		return true
	}

	return database.PublicSharingLevel != metadata.PublicSharingNoAccess
}

// queryLevelRank orders read-only < read-write for min/max comparisons.
func queryLevelRank(level metadata.QueryPermissionLevel) int {
	if level == metadata.QueryPermissionReadWrite {
		return 1
	}

	return 0
}

// HighestQueryAccessLevel computes the query_mode callerEntityID is
// entitled to run against database: the base level derived from ownership,
// grant, and public sharing level, then capped by token's scoped
// permission level if the token is scoped to this database. Returns nil
// when there is no access at all, or when a scoped token names a different
// database.
func HighestQueryAccessLevel(callerEntityID int64, database *metadata.Database, grant *metadata.EntityDatabasePermission, token *metadata.APIToken) *metadata.QueryPermissionLevel {
	if database == nil {
		return nil
	}

	base := baseQueryAccessLevel(callerEntityID, database, grant)

	if token == nil || token.DatabaseID == nil || token.QueryPermissionLevel == nil {
		return base
	}

	if *token.DatabaseID != database.ID {
		return nil
	}

	if base == nil {
		return nil
	}

	return minQueryLevel(base, token.QueryPermissionLevel)
}

func baseQueryAccessLevel(callerEntityID int64, database *metadata.Database, grant *metadata.EntityDatabasePermission) *metadata.QueryPermissionLevel {
	readWrite := metadata.QueryPermissionReadWrite
	readOnly := metadata.QueryPermissionReadOnly

	if callerEntityID == database.EntityID {
		return &readWrite
	}

	var best *metadata.QueryPermissionLevel

	if grant != nil && grant.EntityID == callerEntityID {
		switch grant.SharingLevel {
		case metadata.SharingReadOnly:
			best = &readOnly
		case metadata.SharingReadWrite, metadata.SharingManager:
			best = &readWrite
		}
	}

	if database.PublicSharingLevel == metadata.PublicSharingReadOnly {
		best = maxQueryLevel(best, &readOnly)
	}

	return best
}

func maxQueryLevel(a, b *metadata.QueryPermissionLevel) *metadata.QueryPermissionLevel {
	if a == nil {
		return b
	}

	if b == nil {
		return a
	}

	if queryLevelRank(*a) >= queryLevelRank(*b) {
		return a
	}

	return b
}

func minQueryLevel(a, b *metadata.QueryPermissionLevel) *metadata.QueryPermissionLevel {
	if a == nil || b == nil {
		return nil
	}

	if queryLevelRank(*a) <= queryLevelRank(*b) {
		return a
	}

	return b
}

// CanSetPermission reports whether callerEntityID may grant or change a
// permission for targetEntityID on database, and whether that target grant
// is itself legal. Only a manager (owner or manager grant) may manage
// grants, and the owner may never receive a permission row over its own
// database (spec.md §4.6's cant_set_owner_permissions edge case).
func CanSetPermission(callerEntityID int64, database *metadata.Database, callerGrant *metadata.EntityDatabasePermission, targetEntityID int64) (allowed bool, targetIsOwner bool) {
	if !CanManageDatabase(callerEntityID, database, callerGrant) {
		return false, false
	}

	if targetEntityID == database.EntityID {
		return true, true
	}

	return true, false
}
