package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/helixcare/secrets-core/interfaces"
)

// Argon2id parameters. These follow the RFC 9106 second recommended
// option (64 MiB, 3 passes), sized for interactive logins.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

const userpassUserPrefix = "users/"

type userRecord struct {
	Salt     []byte        `json:"salt"`
	Hash     []byte        `json:"hash"`
	Policies []string      `json:"policies"`
	TTL      time.Duration `json:"ttl,omitempty"`
}

// Userpass authenticates with a username and password. Passwords are
// never stored; only their Argon2id stretch is, behind the barrier.
type Userpass struct {
	view interfaces.PhysicalBackend
	log  *slog.Logger
}

// NewUserpass creates a userpass method over a barrier view scoped to
// its mount.
func NewUserpass(view interfaces.PhysicalBackend, log *slog.Logger) *Userpass {
	return &Userpass{view: view, log: log}
}

func (u *Userpass) Method() string { return "userpass" }

// VerifyCredentials checks a username/password pair. Unknown users and
// wrong passwords are indistinguishable to the caller.
func (u *Userpass) VerifyCredentials(ctx context.Context, data map[string]interface{}) (*VerifiedIdentity, error) {
	username, _ := data["username"].(string)
	password, _ := data["password"].(string)
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", interfaces.ErrValidation)
	}

	record, err := u.getUser(ctx, username)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, interfaces.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}

	candidate := argon2.IDKey([]byte(password), record.Salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	if subtle.ConstantTimeCompare(candidate, record.Hash) != 1 {
		return nil, interfaces.ErrUnauthorized
	}

	return &VerifiedIdentity{
		Name:     username,
		Policies: record.Policies,
		TTL:      record.TTL,
	}, nil
}

// HandleConfig serves users/<name> management paths.
func (u *Userpass) HandleConfig(ctx context.Context, req *interfaces.Request) (*interfaces.Response, error) {
	switch {
	case req.Operation == interfaces.ListOperation && req.Path == userpassUserPrefix:
		names, err := u.view.List(ctx, userpassUserPrefix)
		if err != nil {
			return nil, err
		}
		return &interfaces.Response{Data: map[string]interface{}{"keys": names}}, nil

	case strings.HasPrefix(req.Path, userpassUserPrefix):
		name := strings.TrimPrefix(req.Path, userpassUserPrefix)
		if name == "" || strings.Contains(name, "/") {
			return nil, fmt.Errorf("%w: invalid username", interfaces.ErrValidation)
		}
		switch req.Operation {
		case interfaces.ReadOperation:
			record, err := u.getUser(ctx, name)
			if err != nil {
				return nil, err
			}
			return &interfaces.Response{Data: map[string]interface{}{
				"username": name,
				"policies": record.Policies,
				"ttl":      record.TTL.String(),
			}}, nil
		case interfaces.WriteOperation:
			return nil, u.setUser(ctx, name, req.Data)
		case interfaces.DeleteOperation:
			return nil, u.view.Delete(ctx, userpassUserPrefix+name)
		}
	}
	return nil, fmt.Errorf("%w: unsupported path %q", interfaces.ErrValidation, req.Path)
}

func (u *Userpass) setUser(ctx context.Context, name string, data map[string]interface{}) error {
	password, _ := data["password"].(string)
	if password == "" {
		return fmt.Errorf("%w: password is required", interfaces.ErrValidation)
	}

	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	record := userRecord{
		Salt:     salt,
		Hash:     argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen),
		Policies: stringSlice(data["policies"]),
	}
	if rawTTL, ok := data["ttl"].(string); ok && rawTTL != "" {
		ttl, err := time.ParseDuration(rawTTL)
		if err != nil {
			return fmt.Errorf("%w: invalid ttl: %v", interfaces.ErrValidation, err)
		}
		record.TTL = ttl
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode user record: %w", err)
	}
	if err := u.view.Put(ctx, &interfaces.PhysicalEntry{Key: userpassUserPrefix + name, Value: raw}); err != nil {
		return err
	}

	u.log.Info("Userpass user configured", slog.String("username", name))
	return nil
}

func (u *Userpass) getUser(ctx context.Context, name string) (*userRecord, error) {
	entry, err := u.view.Get(ctx, userpassUserPrefix+name)
	if err != nil {
		return nil, err
	}
	var record userRecord
	if err := json.Unmarshal(entry.Value, &record); err != nil {
		return nil, fmt.Errorf("failed to decode user record: %w", err)
	}
	return &record, nil
}

// stringSlice coerces a decoded JSON value into a string slice.
func stringSlice(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
