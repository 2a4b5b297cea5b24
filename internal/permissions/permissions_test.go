package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marcua/ayb/internal/metadata"
)

func TestCanCreateDatabase(t *testing.T) {
	assert.True(t, CanCreateDatabase(1, 1))
	assert.False(t, CanCreateDatabase(1, 2))
}

func TestCanManageDatabase(t *testing.T) {
	owned := &metadata.Database{ID: 1, EntityID: 10}

	testCases := []struct {
		name     string
		caller   int64
		database *metadata.Database
		grant    *metadata.EntityDatabasePermission
		want     bool
	}{
		{"owner", 10, owned, nil, true},
		{"stranger, no grant", 20, owned, nil, false},
		{"manager grant", 20, owned, &metadata.EntityDatabasePermission{EntityID: 20, SharingLevel: metadata.SharingManager}, true},
		{"read-write grant is not manage", 20, owned, &metadata.EntityDatabasePermission{EntityID: 20, SharingLevel: metadata.SharingReadWrite}, false},
		{"nil database", 10, nil, nil, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CanManageDatabase(tc.caller, tc.database, tc.grant))
		})
	}
}

func TestCanDiscoverDatabase(t *testing.T) {
	noAccess := &metadata.Database{ID: 1, EntityID: 10, PublicSharingLevel: metadata.PublicSharingNoAccess}
	public := &metadata.Database{ID: 2, EntityID: 10, PublicSharingLevel: metadata.PublicSharingMetadata}

	assert.True(t, CanDiscoverDatabase(10, noAccess, nil), "owner can always discover")
	assert.False(t, CanDiscoverDatabase(20, noAccess, nil), "stranger with no grant and no-access cannot discover")
	assert.True(t, CanDiscoverDatabase(20, noAccess, &metadata.EntityDatabasePermission{EntityID: 20, SharingLevel: metadata.SharingReadOnly}), "any grant allows discovery even under no-access")
	assert.True(t, CanDiscoverDatabase(20, public, nil), "non-no-access public level allows discovery")
}

func TestHighestQueryAccessLevel(t *testing.T) {
	db := &metadata.Database{ID: 1, EntityID: 10, PublicSharingLevel: metadata.PublicSharingNoAccess}
	publicReadOnly := &metadata.Database{ID: 2, EntityID: 10, PublicSharingLevel: metadata.PublicSharingReadOnly}

	readOnly := metadata.QueryPermissionReadOnly
	readWrite := metadata.QueryPermissionReadWrite

	t.Run("owner gets read-write", func(t *testing.T) {
		level := HighestQueryAccessLevel(10, db, nil, nil)
		assert.Equal(t, &readWrite, level)
	})

	t.Run("stranger with no grant and no public access gets nothing", func(t *testing.T) {
		assert.Nil(t, HighestQueryAccessLevel(20, db, nil, nil))
	})

	t.Run("public read-only database grants read-only to strangers", func(t *testing.T) {
		level := HighestQueryAccessLevel(20, publicReadOnly, nil, nil)
		assert.Equal(t, &readOnly, level)
	})

	t.Run("read-write grant beats public read-only", func(t *testing.T) {
		grant := &metadata.EntityDatabasePermission{EntityID: 20, SharingLevel: metadata.SharingReadWrite}
		level := HighestQueryAccessLevel(20, publicReadOnly, grant, nil)
		assert.Equal(t, &readWrite, level)
	})

	t.Run("scoped token caps owner down to read-only", func(t *testing.T) {
		tokenLevel := metadata.QueryPermissionReadOnly
		token := &metadata.APIToken{DatabaseID: &db.ID, QueryPermissionLevel: &tokenLevel}
		level := HighestQueryAccessLevel(10, db, nil, token)
		assert.Equal(t, &readOnly, level)
	})

	t.Run("token scoped to a different database yields no access", func(t *testing.T) {
		otherID := db.ID + 100
		tokenLevel := metadata.QueryPermissionReadWrite
		token := &metadata.APIToken{DatabaseID: &otherID, QueryPermissionLevel: &tokenLevel}
		assert.Nil(t, HighestQueryAccessLevel(10, db, nil, token))
	})

	t.Run("unscoped token does not change base level", func(t *testing.T) {
		level := HighestQueryAccessLevel(10, db, nil, &metadata.APIToken{})
		assert.Equal(t, &readWrite, level)
	})
}

func TestCanSetPermission(t *testing.T) {
	db := &metadata.Database{ID: 1, EntityID: 10}

	allowed, targetIsOwner := CanSetPermission(10, db, nil, 10)
	assert.True(t, allowed)
	assert.True(t, targetIsOwner, "granting a permission row to the owner is rejected by the caller")

	allowed, targetIsOwner = CanSetPermission(10, db, nil, 20)
	assert.True(t, allowed)
	assert.False(t, targetIsOwner)

	allowed, _ = CanSetPermission(20, db, nil, 30)
	assert.False(t, allowed, "a non-manager cannot set permissions at all")
}
