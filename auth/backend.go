package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/helixcare/secrets-core/interfaces"
	"github.com/helixcare/secrets-core/token"
)

// VerifiedIdentity is the outcome of a successful credential check.
type VerifiedIdentity struct {
	// Name identifies the authenticated principal (username or role name).
	Name string

	// Policies to attach to the minted token.
	Policies []string

	// TTL bounds the minted token's lifetime. Zero falls back to the
	// backend default.
	TTL time.Duration
}

// CredentialBackend is the contract every auth method implements: verify
// credentials and return the policy set, plus management of the method's
// own configuration paths (users, roles).
type CredentialBackend interface {
	// Method returns the method name, e.g. "userpass".
	Method() string

	// VerifyCredentials checks the supplied credentials. A failed check
	// returns interfaces.ErrUnauthorized without detail about which part
	// of the credential was wrong.
	VerifyCredentials(ctx context.Context, data map[string]interface{}) (*VerifiedIdentity, error)

	// HandleConfig serves the method's non-login paths.
	HandleConfig(ctx context.Context, req *interfaces.Request) (*interfaces.Response, error)
}

// DefaultLoginTTL bounds tokens minted by a login when the identity does
// not carry its own TTL.
const DefaultLoginTTL = time.Hour

// Backend adapts a CredentialBackend into a mountable logical backend.
// A write to the login path is the only unauthenticated operation; every
// other path is subject to normal authorization.
type Backend struct {
	method CredentialBackend
	tokens *token.Store
	log    *slog.Logger
}

// NewBackend wires a credential method to the token store it mints from.
func NewBackend(method CredentialBackend, tokens *token.Store, log *slog.Logger) *Backend {
	return &Backend{method: method, tokens: tokens, log: log}
}

// IsLoginPath reports whether a mount-relative path is the
// unauthenticated login entry point.
func IsLoginPath(path string) bool {
	return path == "login" || strings.HasPrefix(path, "login/")
}

// HandleRequest dispatches one mount-relative logical request.
func (b *Backend) HandleRequest(ctx context.Context, req *interfaces.Request) (*interfaces.Response, error) {
	if IsLoginPath(req.Path) {
		if req.Operation != interfaces.WriteOperation {
			return nil, fmt.Errorf("%w: login only accepts writes", interfaces.ErrValidation)
		}
		return b.handleLogin(ctx, req)
	}
	return b.method.HandleConfig(ctx, req)
}

func (b *Backend) handleLogin(ctx context.Context, req *interfaces.Request) (*interfaces.Response, error) {
	identity, err := b.method.VerifyCredentials(ctx, req.Data)
	if err != nil {
		b.log.Warn("Login rejected", slog.String("method", b.method.Method()))
		return nil, err
	}

	ttl := identity.TTL
	if ttl == 0 {
		ttl = DefaultLoginTTL
	}

	entry, err := b.tokens.Create(ctx, token.CreateOptions{
		Policies:  identity.Policies,
		RealmID:   req.RealmID,
		TTL:       ttl,
		Renewable: true,
	})
	if err != nil {
		return nil, err
	}

	b.log.Info("Login succeeded",
		slog.String("method", b.method.Method()),
		slog.String("principal", identity.Name))

	return &interfaces.Response{
		Data: map[string]interface{}{
			"token":    entry.ID,
			"policies": entry.Policies,
			"ttl":      ttl.String(),
		},
		Lease: &interfaces.LeaseMetadata{TTL: ttl, Renewable: true},
	}, nil
}
