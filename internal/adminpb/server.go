package adminpb

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/marcua/ayb/common"
	"github.com/marcua/ayb/common/logging"
	"github.com/marcua/ayb/internal/registry"
)

// Server implements AdminServer against a registry.Registry, reusing the
// same daemon lifecycle logic the HTTP and pgwire paths use rather than
// duplicating it (SPEC_FULL.md §4.19).
type Server struct {
	Registry      *registry.Registry
	Logger        logging.Logger
	ListenAddress string
}

// Run implements common.Runnable: listens on ListenAddress until ctx is
// cancelled, then stops gracefully. A blank ListenAddress disables the
// plane entirely.
func (s *Server) Run(ctx context.Context) error {
	if s.ListenAddress == "" {
		<-ctx.Done()
		return nil
	}

	lis, err := net.Listen("tcp", s.ListenAddress)
	if err != nil {
		return common.Wrap(common.KindIO, fmt.Sprintf("listening on admin address %s", s.ListenAddress), err)
	}

	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&ServiceDesc, s)

	errCh := make(chan error, 1)

	go func() {
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		grpcServer.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// ListDaemons returns every running daemon's path, PID, and spawn time.
func (s *Server) ListDaemons(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	infos := s.Registry.List()

	daemons := make([]any, len(infos))
	for i, info := range infos {
		daemons[i] = map[string]any{
			"path":            info.Path,
			"pid":             float64(info.PID),
			"spawned_at_unix": float64(info.SpawnedAt.Unix()),
		}
	}

	return structpb.NewStruct(map[string]any{"daemons": daemons})
}

// ShutDownDaemon force-terminates the daemon running against the path
// carried in req's "path" field.
func (s *Server) ShutDownDaemon(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	path, _ := req.AsMap()["path"].(string)
	if path == "" {
		return nil, common.New(common.KindConfigurationError, "path is required")
	}

	if err := s.Registry.ShutDown(path); err != nil {
		return nil, err
	}

	return structpb.NewStruct(map[string]any{})
}

// Health reports liveness of the admin plane itself.
func (s *Server) Health(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"status": "ok"})
}
