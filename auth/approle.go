package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/helixcare/secrets-core/interfaces"
)

const (
	approleRolePrefix   = "roles/"
	approleRoleIDPrefix = "role-ids/"
)

type roleRecord struct {
	Name     string        `json:"name"`
	RoleID   string        `json:"role_id"`
	Policies []string      `json:"policies"`
	TTL      time.Duration `json:"ttl,omitempty"`

	// SecretIDs maps the SHA-256 of each outstanding secret ID to its
	// issue time. A secret ID is removed on first successful use.
	SecretIDs map[string]time.Time `json:"secret_ids"`
}

// Approle authenticates machines with a role-id plus a single-use
// secret-id. Role IDs are stable identifiers; secret IDs are minted on
// demand, stored hashed, and consumed by the login that presents them.
type Approle struct {
	view interfaces.PhysicalBackend
	log  *slog.Logger
}

// NewApprole creates an approle method over a barrier view scoped to its
// mount.
func NewApprole(view interfaces.PhysicalBackend, log *slog.Logger) *Approle {
	return &Approle{view: view, log: log}
}

func (a *Approle) Method() string { return "approle" }

// VerifyCredentials checks a role-id/secret-id pair and consumes the
// secret ID on success.
func (a *Approle) VerifyCredentials(ctx context.Context, data map[string]interface{}) (*VerifiedIdentity, error) {
	roleID, _ := data["role_id"].(string)
	secretID, _ := data["secret_id"].(string)
	if roleID == "" || secretID == "" {
		return nil, fmt.Errorf("%w: role_id and secret_id are required", interfaces.ErrValidation)
	}

	name, err := a.roleNameByID(ctx, roleID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, interfaces.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}

	record, err := a.getRole(ctx, name)
	if err != nil {
		return nil, err
	}

	hashed := hashSecretID(secretID)
	if _, ok := record.SecretIDs[hashed]; !ok {
		return nil, interfaces.ErrUnauthorized
	}

	// Single use: burn the secret ID before handing out an identity.
	delete(record.SecretIDs, hashed)
	if err := a.putRole(ctx, record); err != nil {
		return nil, err
	}

	return &VerifiedIdentity{
		Name:     record.Name,
		Policies: record.Policies,
		TTL:      record.TTL,
	}, nil
}

// HandleConfig serves role management paths:
//
//	roles/<name>            read/write/delete the role
//	roles/<name>/secret-id  write mints a fresh secret ID
//	roles/                  list role names
func (a *Approle) HandleConfig(ctx context.Context, req *interfaces.Request) (*interfaces.Response, error) {
	if req.Operation == interfaces.ListOperation && req.Path == approleRolePrefix {
		names, err := a.view.List(ctx, approleRolePrefix)
		if err != nil {
			return nil, err
		}
		return &interfaces.Response{Data: map[string]interface{}{"keys": names}}, nil
	}

	if !strings.HasPrefix(req.Path, approleRolePrefix) {
		return nil, fmt.Errorf("%w: unsupported path %q", interfaces.ErrValidation, req.Path)
	}
	rest := strings.TrimPrefix(req.Path, approleRolePrefix)

	if name, ok := strings.CutSuffix(rest, "/secret-id"); ok {
		if req.Operation != interfaces.WriteOperation {
			return nil, fmt.Errorf("%w: secret-id only accepts writes", interfaces.ErrValidation)
		}
		return a.mintSecretID(ctx, name)
	}

	name := rest
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("%w: invalid role name", interfaces.ErrValidation)
	}

	switch req.Operation {
	case interfaces.ReadOperation:
		record, err := a.getRole(ctx, name)
		if err != nil {
			return nil, err
		}
		return &interfaces.Response{Data: map[string]interface{}{
			"name":            record.Name,
			"role_id":         record.RoleID,
			"policies":        record.Policies,
			"ttl":             record.TTL.String(),
			"secret_id_count": len(record.SecretIDs),
		}}, nil
	case interfaces.WriteOperation:
		return a.setRole(ctx, name, req.Data)
	case interfaces.DeleteOperation:
		return nil, a.deleteRole(ctx, name)
	}
	return nil, fmt.Errorf("%w: unsupported operation %q", interfaces.ErrValidation, req.Operation)
}

func (a *Approle) setRole(ctx context.Context, name string, data map[string]interface{}) (*interfaces.Response, error) {
	record, err := a.getRole(ctx, name)
	if errors.Is(err, interfaces.ErrNotFound) {
		record = &roleRecord{
			Name:      name,
			RoleID:    uuid.NewString(),
			SecretIDs: map[string]time.Time{},
		}
	} else if err != nil {
		return nil, err
	}

	record.Policies = stringSlice(data["policies"])
	if rawTTL, ok := data["ttl"].(string); ok && rawTTL != "" {
		ttl, err := time.ParseDuration(rawTTL)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid ttl: %v", interfaces.ErrValidation, err)
		}
		record.TTL = ttl
	}

	if err := a.putRole(ctx, record); err != nil {
		return nil, err
	}

	a.log.Info("Approle role configured", slog.String("role", name))
	return &interfaces.Response{Data: map[string]interface{}{"role_id": record.RoleID}}, nil
}

func (a *Approle) mintSecretID(ctx context.Context, name string) (*interfaces.Response, error) {
	record, err := a.getRole(ctx, name)
	if err != nil {
		return nil, err
	}

	secretID := uuid.NewString()
	record.SecretIDs[hashSecretID(secretID)] = time.Now().UTC()
	if err := a.putRole(ctx, record); err != nil {
		return nil, err
	}

	a.log.Info("Approle secret ID minted", slog.String("role", name))
	return &interfaces.Response{Data: map[string]interface{}{"secret_id": secretID}}, nil
}

func (a *Approle) deleteRole(ctx context.Context, name string) error {
	record, err := a.getRole(ctx, name)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := a.view.Delete(ctx, approleRoleIDPrefix+record.RoleID); err != nil {
		return err
	}
	return a.view.Delete(ctx, approleRolePrefix+name)
}

func (a *Approle) getRole(ctx context.Context, name string) (*roleRecord, error) {
	entry, err := a.view.Get(ctx, approleRolePrefix+name)
	if err != nil {
		return nil, err
	}
	var record roleRecord
	if err := json.Unmarshal(entry.Value, &record); err != nil {
		return nil, fmt.Errorf("failed to decode role record: %w", err)
	}
	if record.SecretIDs == nil {
		record.SecretIDs = map[string]time.Time{}
	}
	return &record, nil
}

func (a *Approle) putRole(ctx context.Context, record *roleRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode role record: %w", err)
	}
	if err := a.view.Put(ctx, &interfaces.PhysicalEntry{Key: approleRolePrefix + record.Name, Value: raw}); err != nil {
		return err
	}
	// Reverse index so login can find the role by its stable ID.
	return a.view.Put(ctx, &interfaces.PhysicalEntry{
		Key:   approleRoleIDPrefix + record.RoleID,
		Value: []byte(record.Name),
	})
}

func (a *Approle) roleNameByID(ctx context.Context, roleID string) (string, error) {
	entry, err := a.view.Get(ctx, approleRoleIDPrefix+roleID)
	if err != nil {
		return "", err
	}
	return string(entry.Value), nil
}

func hashSecretID(secretID string) string {
	sum := sha256.Sum256([]byte(secretID))
	return hex.EncodeToString(sum[:])
}
