// Package pgwire implements the PostgreSQL wire-protocol front end from
// spec.md §4.9: Startup → CleartextPassword → Simple Query, reusing the
// same permission and daemon-registry path the HTTP server uses so query
// execution semantics never diverge between the two surfaces. Grounded on
// jackc/pgx/v5/pgproto3 (already a transitive dependency via the metadata
// store's postgres backend) for frame encoding/decoding.
package pgwire

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgproto3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/marcua/ayb/common"
	"github.com/marcua/ayb/common/logging"
	"github.com/marcua/ayb/internal/auth"
	"github.com/marcua/ayb/internal/metadata"
	"github.com/marcua/ayb/internal/pathlayout"
	"github.com/marcua/ayb/internal/permissions"
	"github.com/marcua/ayb/internal/querydaemon"
	"github.com/marcua/ayb/internal/registry"
)

var tracer = otel.Tracer("github.com/marcua/ayb/internal/pgwire")

// Server accepts pgwire connections on a TCP address.
type Server struct {
	Store    metadata.Store
	Registry *registry.Registry
	Layout   *pathlayout.Layout
	Logger   logging.Logger
}

// Run implements common.Runnable: accepts connections on addr until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return common.Wrap(common.KindIO, fmt.Sprintf("listening on pgwire address %s", addr), err)
	}

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return common.Wrap(common.KindIO, "accepting pgwire connection", err)
		}

		go s.handleConn(ctx, conn)
	}
}

// connState is the authenticated identity of a pgwire connection,
// established once at startup and reused for every simple query.
type connState struct {
	token    *metadata.APIToken
	entity   string
	database string
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	backend := pgproto3.NewBackend(conn, conn)

	state, err := s.authenticate(ctx, backend)
	if err != nil {
		s.Logger.Warn("pgwire authentication failed", "remote", conn.RemoteAddr().String(), "error", err.Error())
		return
	}

	for {
		msg, err := backend.Receive()
		if err != nil {
			return
		}

		switch m := msg.(type) {
		case *pgproto3.Query:
			s.handleQuery(ctx, backend, state, m.String)
		case *pgproto3.Terminate:
			return
		default:
			s.sendError(backend, "08P01", "unsupported frontend message")
			backend.Flush()

			return
		}
	}
}

// authenticate runs the Startup -> CleartextPassword exchange and resolves
// the connection's entity/database parameter (spec.md §4.9).
func (s *Server) authenticate(ctx context.Context, backend *pgproto3.Backend) (*connState, error) {
	startupMsg, err := backend.ReceiveStartupMessage()
	if err != nil {
		return nil, common.Wrap(common.KindIO, "receiving startup message", err)
	}

	startup, ok := startupMsg.(*pgproto3.StartupMessage)
	if !ok {
		return nil, common.New(common.KindConfigurationError, "expected startup message")
	}

	database := startup.Parameters["database"]
	username := startup.Parameters["user"]

	entitySlug, dbSlug, ok := strings.Cut(database, "/")
	if !ok {
		s.sendFatal(backend, "28000", "database parameter must be entity/database")
		return nil, common.New(common.KindInvalidToken, "malformed database parameter")
	}

	backend.Send(&pgproto3.AuthenticationCleartextPassword{})

	if err := backend.Flush(); err != nil {
		return nil, common.Wrap(common.KindIO, "sending authentication request", err)
	}

	passwordMsg, err := backend.Receive()
	if err != nil {
		return nil, common.Wrap(common.KindIO, "receiving password message", err)
	}

	password, ok := passwordMsg.(*pgproto3.PasswordMessage)
	if !ok {
		s.sendFatal(backend, "08P01", "expected password message")
		return nil, common.New(common.KindInvalidToken, "expected password message")
	}

	token, err := auth.ValidateAPIToken(ctx, s.Store, password.Password)
	if err != nil {
		s.sendFatal(backend, "28P01", "invalid API token")
		return nil, err
	}

	if !auth.MatchesEntitySlug(username, entitySlug) {
		s.sendFatal(backend, "28P01", "user does not match token's entity")
		return nil, common.New(common.KindInvalidToken, "user does not match token's entity")
	}

	backend.Send(&pgproto3.AuthenticationOk{})
	backend.Send(&pgproto3.ParameterStatus{Name: "server_version", Value: "14.0"})
	backend.Send(&pgproto3.ParameterStatus{Name: "client_encoding", Value: "UTF8"})
	backend.Send(&pgproto3.BackendKeyData{ProcessID: 0, SecretKey: 0})
	backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})

	if err := backend.Flush(); err != nil {
		return nil, common.Wrap(common.KindIO, "sending authentication response", err)
	}

	return &connState{token: token, entity: entitySlug, database: dbSlug}, nil
}

// handleQuery runs query through the same access-level computation and
// daemon registry as the HTTP query handler, then encodes the result as a
// PostgreSQL query response with every column typed as text.
func (s *Server) handleQuery(ctx context.Context, backend *pgproto3.Backend, state *connState, query string) {
	ctx, span := tracer.Start(ctx, "pgwire.handleQuery")
	defer span.End()

	span.SetAttributes(
		attribute.String("ayb.entity", state.entity),
		attribute.String("ayb.database", state.database),
	)

	database, err := s.Store.GetDatabase(ctx, state.entity, state.database)
	if err != nil {
		s.sendError(backend, "42601", err.Error())
		s.endQuery(backend)

		return
	}

	var grant *metadata.EntityDatabasePermission
	grant, _ = s.Store.GetPermission(ctx, state.token.EntityID, database.ID)

	level := permissions.HighestQueryAccessLevel(state.token.EntityID, database, grant, state.token)
	if level == nil {
		s.sendError(backend, "42501", "no access to this database")
		s.endQuery(backend)

		return
	}

	mode := querydaemon.QueryModeReadOnly
	if *level == metadata.QueryPermissionReadWrite {
		mode = querydaemon.QueryModeReadWrite
	}

	span.SetAttributes(attribute.Int("ayb.query.mode", int(mode)))

	dbPath, err := s.Layout.CurrentPath(state.entity, state.database)
	if err != nil {
		s.sendError(backend, "42601", err.Error())
		s.endQuery(backend)

		return
	}

	resp, err := s.Registry.ExecuteQuery(ctx, dbPath, query, mode)
	if err != nil {
		s.sendError(backend, "42601", err.Error())
		s.endQuery(backend)

		return
	}

	if len(resp.Fields) == 0 {
		backend.Send(&pgproto3.EmptyQueryResponse{})
		s.endQuery(backend)

		return
	}

	fields := make([]pgproto3.FieldDescription, len(resp.Fields))
	for i, name := range resp.Fields {
		fields[i] = pgproto3.FieldDescription{
			Name:         []byte(name),
			DataTypeOID:  textOID,
			DataTypeSize: -1,
			TypeModifier: -1,
			Format:       0,
		}
	}

	backend.Send(&pgproto3.RowDescription{Fields: fields})

	for _, row := range resp.Rows {
		values := make([][]byte, len(row))
		for i, cell := range row {
			if cell != nil {
				values[i] = []byte(*cell)
			}
		}

		backend.Send(&pgproto3.DataRow{Values: values})
	}

	backend.Send(&pgproto3.CommandComplete{CommandTag: []byte("SELECT " + strconv.Itoa(len(resp.Rows)))})
	s.endQuery(backend)
}

// textOID is PostgreSQL's well-known OID for the `text` type; every
// column is reported as text regardless of its sqlite affinity (spec.md
// §4.9).
const textOID = 25

func (s *Server) endQuery(backend *pgproto3.Backend) {
	backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'})
	backend.Flush()
}

func (s *Server) sendError(backend *pgproto3.Backend, code, message string) {
	backend.Send(&pgproto3.ErrorResponse{Severity: "ERROR", Code: code, Message: message})
}

func (s *Server) sendFatal(backend *pgproto3.Backend, code, message string) {
	backend.Send(&pgproto3.ErrorResponse{Severity: "FATAL", Code: code, Message: message})
	backend.Flush()
}
