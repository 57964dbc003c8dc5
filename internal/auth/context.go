package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

type contextKey string

const identityKey contextKey = "identity"

// ErrForbidden is returned when a caller lacks access to a job. Reads fail
// closed: no identity means no access.
var ErrForbidden = errors.New("forbidden")

// Identity is the authenticated caller attached to a request by the outer
// session layer. Elevated callers may read any job's progress.
type Identity struct {
	UserID   uuid.UUID
	Elevated bool
}

// ContextWithIdentity returns a new context carrying the caller identity.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext retrieves the caller identity from the context, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	value := ctx.Value(identityKey)
	if value == nil {
		return Identity{}, false
	}
	identity, ok := value.(Identity)
	if !ok || identity.UserID == uuid.Nil {
		return Identity{}, false
	}
	return identity, true
}

// CanReadJob reports whether the identity may read a job owned by ownerID.
func (i Identity) CanReadJob(ownerID uuid.UUID) bool {
	if i.Elevated {
		return true
	}
	return i.UserID != uuid.Nil && i.UserID == ownerID
}
