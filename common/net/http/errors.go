package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/marcua/ayb/common"
)

// ResponseError is the JSON envelope returned for every error response,
// matching spec.md §7's `{error_kind, message}` shape.
type ResponseError struct {
	ErrorKind  string `json:"error_kind"`
	Message    string `json:"message"`
	RecordKind string `json:"record_kind,omitempty"`
}

// kindStatus is the closed-set mapping from common.Kind to HTTP status,
// per spec.md §7.
var kindStatus = map[common.Kind]int{
	common.KindEntityExists:            fiber.StatusConflict,
	common.KindDatabaseExists:          fiber.StatusConflict,
	common.KindRecordNotFound:          fiber.StatusNotFound,
	common.KindInvalidToken:            fiber.StatusUnauthorized,
	common.KindReadOnlyViolation:       fiber.StatusForbidden,
	common.KindNoAccess:                fiber.StatusForbidden,
	common.KindReservedSlug:            fiber.StatusBadRequest,
	common.KindSnapshotDoesNotExist:    fiber.StatusNotFound,
	common.KindSnapshotError:           fiber.StatusInternalServerError,
	common.KindStorageError:            fiber.StatusInternalServerError,
	common.KindConfigurationError:      fiber.StatusBadRequest,
	common.KindCantSetOwnerPermissions: fiber.StatusBadRequest,
	common.KindQueryError:              fiber.StatusBadRequest,
	common.KindDaemonCrashed:           fiber.StatusInternalServerError,
	common.KindIO:                      fiber.StatusInternalServerError,
	common.KindOther:                   fiber.StatusInternalServerError,
}

// WithError writes err as a JSON error envelope, using the closed-set
// common.Error kind to pick the HTTP status. Anything that isn't a
// common.Error is a bug surfaced as a 500 rather than leaked verbatim.
func WithError(c *fiber.Ctx, err error) error {
	kind := common.KindOf(err)

	status, ok := kindStatus[kind]
	if !ok {
		status = fiber.StatusInternalServerError
	}

	var aybErr common.Error
	if !errors.As(err, &aybErr) {
		aybErr = common.New(kind, "internal server error")
	}

	return c.Status(status).JSON(ResponseError{
		ErrorKind:  string(aybErr.Kind),
		Message:    aybErr.Error(),
		RecordKind: aybErr.RecordKind,
	})
}
