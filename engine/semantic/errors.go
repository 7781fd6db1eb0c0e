package semantic

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/WessleyAI/docrag/engine/domain"
)

// storeErr wraps an RPC failure, tagging it with the matching domain sentinel
// when the cause is a missing collection or an unreachable service.
func storeErr(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("semantic: %s: %w: %w", op, domain.ErrStoreUnavailable, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("semantic: %s: %w", op, err)
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("semantic: %s: %w: %w", op, domain.ErrStoreUnavailable, err)
	case codes.NotFound:
		return fmt.Errorf("semantic: %s: %w: %w", op, domain.ErrCollectionNotFound, err)
	}
	return fmt.Errorf("semantic: %s: %w", op, err)
}
