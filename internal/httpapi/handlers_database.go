package httpapi

import (
	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/marcua/ayb/common"
	aybhttp "github.com/marcua/ayb/common/net/http"
	"github.com/marcua/ayb/internal/eventing"
	"github.com/marcua/ayb/internal/metadata"
	"github.com/marcua/ayb/internal/pathlayout"
	"github.com/marcua/ayb/internal/permissions"
	"github.com/marcua/ayb/internal/querydaemon"
)

var tracer = otel.Tracer("github.com/marcua/ayb/internal/httpapi")

// databaseContext resolves the caller's access to {entity}/{db}: the
// entity and database records, the caller's own grant (if any), and the
// presented token. Returns a common.Error ready for aybhttp.WithError on
// any lookup failure.
type databaseContext struct {
	entity   *metadata.Entity
	database *metadata.Database
	grant    *metadata.EntityDatabasePermission
	token    *metadata.APIToken
}

func (s *Server) resolveDatabase(c *fiber.Ctx) (*databaseContext, error) {
	ctx := c.UserContext()

	entitySlug := c.Params("entity")
	dbSlug := c.Params("db")

	entity, err := s.deps.Store.GetEntity(ctx, entitySlug)
	if err != nil {
		return nil, err
	}

	database, err := s.deps.Store.GetDatabase(ctx, entitySlug, dbSlug)
	if err != nil {
		return nil, err
	}

	token := tokenFromContext(c)

	var grant *metadata.EntityDatabasePermission
	if token != nil {
		grant, _ = s.deps.Store.GetPermission(ctx, token.EntityID, database.ID)
	}

	return &databaseContext{entity: entity, database: database, grant: grant, token: token}, nil
}

// handleCreateDatabase implements POST /{entity}/{db}/create (spec.md §6).
func (s *Server) handleCreateDatabase(c *fiber.Ctx) error {
	ctx := c.UserContext()

	token := tokenFromContext(c)
	entitySlug := c.Params("entity")
	dbSlug := c.Params("db")

	if pathlayout.IsReservedSlug(dbSlug) {
		return aybhttp.WithError(c, common.New(common.KindReservedSlug, "database name is reserved"))
	}

	entity, err := s.deps.Store.GetEntity(ctx, entitySlug)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	if !permissions.CanCreateDatabase(token.EntityID, entity.ID) {
		return aybhttp.WithError(c, common.New(common.KindNoAccess, "cannot create a database for another entity"))
	}

	dbType := metadata.DBType(c.Get("db-type"))
	if dbType == "" {
		dbType = metadata.DBTypeSQLite
	}

	sharingLevel := metadata.PublicSharingLevel(c.Get("public-sharing-level"))
	if sharingLevel == "" {
		sharingLevel = metadata.PublicSharingNoAccess
	}

	database, err := s.deps.Store.CreateDatabase(ctx, entity.ID, dbSlug, dbType, sharingLevel)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	if err := s.deps.Layout.EnsureDatabaseDir(entitySlug, dbSlug); err != nil {
		return aybhttp.WithError(c, err)
	}

	versionDir, err := s.deps.Layout.NewVersionPath(entitySlug, dbSlug)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	if err := querydaemon.RunUnsafe(versionDir+"/"+dbSlug, "VACUUM"); err != nil {
		return aybhttp.WithError(c, err)
	}

	if err := s.deps.Layout.SetCurrentAndGC(entitySlug, dbSlug, versionDir); err != nil {
		return aybhttp.WithError(c, err)
	}

	s.deps.Events.Publish(ctx, eventing.EventDatabaseCreated, map[string]string{
		"entity":   entitySlug,
		"database": dbSlug,
	})

	return c.Status(fiber.StatusCreated).JSON(databaseResponse(database))
}

func databaseResponse(db *metadata.Database) fiber.Map {
	return fiber.Map{
		"id":                   db.ID,
		"slug":                 db.Slug,
		"db_type":              db.DBType,
		"public_sharing_level": db.PublicSharingLevel,
	}
}

// handleUpdateDatabase implements PATCH /{entity}/{db}/update: present=set
// semantics only (spec.md §4.8).
func (s *Server) handleUpdateDatabase(c *fiber.Ctx) error {
	dbCtx, err := s.resolveDatabase(c)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	if !permissions.CanManageDatabase(dbCtx.token.EntityID, dbCtx.database, dbCtx.grant) {
		return aybhttp.WithError(c, common.New(common.KindNoAccess, "cannot manage this database"))
	}

	var body struct {
		PublicSharingLevel *string `json:"public_sharing_level"`
	}

	if err := c.BodyParser(&body); err != nil {
		return aybhttp.WithError(c, common.New(common.KindConfigurationError, "invalid request body"))
	}

	update := metadata.DatabaseUpdate{}
	if body.PublicSharingLevel != nil {
		level := metadata.PublicSharingLevel(*body.PublicSharingLevel)
		update.PublicSharingLevel = &level
	}

	updated, err := s.deps.Store.UpdateDatabase(c.UserContext(), dbCtx.database.ID, update)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	return c.JSON(databaseResponse(updated))
}

// handleQuery implements POST /{entity}/{db}/query, the central handler
// (spec.md §4.8): resolve access, pick read-only/read-write mode by the
// caller's highest level, and run the query through the daemon registry.
func (s *Server) handleQuery(c *fiber.Ctx) error {
	ctx, span := tracer.Start(c.UserContext(), "httpapi.handleQuery")
	defer span.End()

	span.SetAttributes(
		attribute.String("ayb.entity", c.Params("entity")),
		attribute.String("ayb.database", c.Params("db")),
	)

	dbCtx, err := s.resolveDatabase(c)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	level := permissions.HighestQueryAccessLevel(dbCtx.token.EntityID, dbCtx.database, dbCtx.grant, dbCtx.token)
	if level == nil {
		return aybhttp.WithError(c, common.New(common.KindNoAccess, "no query access to this database"))
	}

	mode := querydaemon.QueryModeReadOnly
	if *level == metadata.QueryPermissionReadWrite {
		mode = querydaemon.QueryModeReadWrite
	}

	span.SetAttributes(attribute.Int("ayb.query.mode", int(mode)))

	query := string(c.Body())
	if query == "" {
		return aybhttp.WithError(c, common.New(common.KindConfigurationError, "request body must contain a query"))
	}

	dbPath, err := s.deps.Layout.CurrentPath(c.Params("entity"), c.Params("db"))
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	resp, err := s.deps.Registry.ExecuteQuery(ctx, dbPath, query, mode)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	return c.JSON(fiber.Map{"fields": resp.Fields, "rows": resp.Rows})
}

// handleDatabaseDetails implements GET /{entity}/{db}/details: the
// caller's capabilities against this database.
func (s *Server) handleDatabaseDetails(c *fiber.Ctx) error {
	dbCtx, err := s.resolveDatabase(c)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	if !permissions.CanDiscoverDatabase(dbCtx.token.EntityID, dbCtx.database, dbCtx.grant) {
		return aybhttp.WithError(c, common.New(common.KindNoAccess, "no access to this database"))
	}

	level := permissions.HighestQueryAccessLevel(dbCtx.token.EntityID, dbCtx.database, dbCtx.grant, dbCtx.token)
	canManage := permissions.CanManageDatabase(dbCtx.token.EntityID, dbCtx.database, dbCtx.grant)

	return c.JSON(fiber.Map{
		"database":    databaseResponse(dbCtx.database),
		"query_mode":  level,
		"can_manage":  canManage,
	})
}

// handleShare implements POST /{entity}/{db}/share: grant, change, or
// revoke an entity-level permission (spec.md §6, §4.6's
// cant_set_owner_permissions edge case).
func (s *Server) handleShare(c *fiber.Ctx) error {
	dbCtx, err := s.resolveDatabase(c)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	var body struct {
		Entity       string  `json:"entity"`
		SharingLevel *string `json:"sharing_level"`
	}

	if err := c.BodyParser(&body); err != nil || body.Entity == "" {
		return aybhttp.WithError(c, common.New(common.KindConfigurationError, "entity is required"))
	}

	ctx := c.UserContext()

	target, err := s.deps.Store.GetEntity(ctx, body.Entity)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	allowed, targetIsOwner := permissions.CanSetPermission(dbCtx.token.EntityID, dbCtx.database, dbCtx.grant, target.ID)
	if !allowed {
		return aybhttp.WithError(c, common.New(common.KindNoAccess, "cannot manage grants on this database"))
	}

	if targetIsOwner {
		return aybhttp.WithError(c, common.New(common.KindCantSetOwnerPermissions, "cannot set a permission for the database's owner"))
	}

	if body.SharingLevel == nil {
		if err := s.deps.Store.DeletePermission(ctx, target.ID, dbCtx.database.ID); err != nil {
			return aybhttp.WithError(c, err)
		}

		return c.JSON(fiber.Map{"status": "ok"})
	}

	level := metadata.SharingLevel(*body.SharingLevel)

	existing, err := s.deps.Store.GetPermission(ctx, target.ID, dbCtx.database.ID)
	if err == nil && existing != nil {
		updated, err := s.deps.Store.UpdatePermission(ctx, target.ID, dbCtx.database.ID, level)
		if err != nil {
			return aybhttp.WithError(c, err)
		}

		return c.JSON(permissionResponse(updated))
	}

	created, err := s.deps.Store.CreatePermission(ctx, metadata.EntityDatabasePermission{
		EntityID:     target.ID,
		DatabaseID:   dbCtx.database.ID,
		SharingLevel: level,
	})
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	return c.JSON(permissionResponse(created))
}

func permissionResponse(perm *metadata.EntityDatabasePermission) fiber.Map {
	return fiber.Map{
		"entity_id":     perm.EntityID,
		"database_id":   perm.DatabaseID,
		"sharing_level": perm.SharingLevel,
	}
}

// handleShareList implements GET /{entity}/{db}/share_list.
func (s *Server) handleShareList(c *fiber.Ctx) error {
	dbCtx, err := s.resolveDatabase(c)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	if !permissions.CanManageDatabase(dbCtx.token.EntityID, dbCtx.database, dbCtx.grant) {
		return aybhttp.WithError(c, common.New(common.KindNoAccess, "cannot view grants on this database"))
	}

	grants, err := s.deps.Store.ListPermissionsByDatabase(c.UserContext(), dbCtx.database.ID)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	out := make([]fiber.Map, len(grants))
	for i, g := range grants {
		out[i] = permissionResponse(g)
	}

	return c.JSON(out)
}

// handleListSnapshots implements GET /{entity}/{db}/list_snapshots.
func (s *Server) handleListSnapshots(c *fiber.Ctx) error {
	dbCtx, err := s.resolveDatabase(c)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	if !permissions.CanManageSnapshots(dbCtx.token.EntityID, dbCtx.database, dbCtx.grant) {
		return aybhttp.WithError(c, common.New(common.KindNoAccess, "cannot view snapshots of this database"))
	}

	infos, err := s.deps.Snapshots.List(c.UserContext(), c.Params("entity"), c.Params("db"))
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	out := make([]fiber.Map, len(infos))
	for i, info := range infos {
		out[i] = fiber.Map{"id": info.ID, "last_modified": info.LastModified}
	}

	return c.JSON(out)
}

// handleRestoreSnapshot implements POST /{entity}/{db}/restore_snapshot
// (spec.md §4.10's restore protocol).
func (s *Server) handleRestoreSnapshot(c *fiber.Ctx) error {
	dbCtx, err := s.resolveDatabase(c)
	if err != nil {
		return aybhttp.WithError(c, err)
	}

	if !permissions.CanManageSnapshots(dbCtx.token.EntityID, dbCtx.database, dbCtx.grant) {
		return aybhttp.WithError(c, common.New(common.KindNoAccess, "cannot restore snapshots of this database"))
	}

	id := string(c.Body())
	if id == "" {
		return aybhttp.WithError(c, common.New(common.KindConfigurationError, "request body must contain a snapshot id"))
	}

	entitySlug := c.Params("entity")
	dbSlug := c.Params("db")

	if err := s.deps.SnapshotEngine.Restore(c.UserContext(), entitySlug, dbSlug, id); err != nil {
		return aybhttp.WithError(c, err)
	}

	return c.JSON(fiber.Map{"status": "ok"})
}
