package grpcserver

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/caregate/internal/errs"
)

var codeOf = map[error]codes.Code{
	errs.ErrUnauthenticated:       codes.Unauthenticated,
	errs.ErrForbidden:             codes.PermissionDenied,
	errs.ErrInvalidCredentials:    codes.Unauthenticated,
	errs.ErrInvalidFederatedToken: codes.Unauthenticated,
	errs.ErrDuplicateIdentity:     codes.AlreadyExists,
	errs.ErrDuplicateApplication:  codes.AlreadyExists,
	errs.ErrInvalidTransition:     codes.FailedPrecondition,
	errs.ErrNotFound:              codes.NotFound,
	errs.ErrValidation:            codes.InvalidArgument,
	errs.ErrRateLimited:           codes.ResourceExhausted,
	errs.ErrStorageUnavailable:    codes.Unavailable,
}

// toStatus maps a domain error to a gRPC status. Errors that already carry a
// status pass through.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code, ok := codeOf[errs.Kind(err)]
	if !ok {
		code = codes.Internal
	}
	return status.Error(code, errs.PublicMessage(err))
}
