package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/helixcare/secrets-core/interfaces"
)

// ErrInvalidLocationURI is returned when a backend location URI is
// malformed or uses an unsupported scheme.
var ErrInvalidLocationURI = fmt.Errorf("invalid storage location URI")

// Factory creates physical backends from URI strings.
type Factory struct {
	log *slog.Logger
}

// describedBackend is what the factory constructs: a physical backend
// that can identify itself for startup logging.
type describedBackend interface {
	interfaces.PhysicalBackend

	Name() string
	LocationURI() string
}

// NewFactory creates a backend factory.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// BackendFor creates a physical backend from a location URI.
//
// Supported schemes:
//   - file:///path - local filesystem storage
//   - inmem:// - in-memory storage (dev/tests only; nothing survives restart)
//   - s3://bucket/prefix?region=...&endpoint=...&access_key=...&secret_key=... - object storage
//   - vault://host:port/mount/path?token=...&scheme=https - external Vault KV v2
func (f *Factory) BackendFor(locationURI string) (interfaces.PhysicalBackend, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	var backend describedBackend
	switch strings.ToLower(u.Scheme) {
	case "file":
		backend, err = f.createFileBackend(u)
	case "inmem":
		backend = NewInmemBackend()
	case "s3":
		backend, err = f.createS3Backend(u)
	case "vault":
		backend, err = f.createVaultBackend(u)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme: %s", ErrInvalidLocationURI, u.Scheme)
	}
	if err != nil {
		return nil, err
	}

	f.log.Info("Storage backend configured",
		slog.String("backend", backend.Name()),
		slog.String("location", backend.LocationURI()))
	return backend, nil
}

// createFileBackend creates a filesystem backend.
// URI format: file:///var/lib/secretsd/data
func (f *Factory) createFileBackend(u *url.URL) (describedBackend, error) {
	f.log.Debug("Creating file backend", slog.String("uri", u.String()))

	baseDir := u.Path
	if u.Host != "" {
		// Relative form file://dir/sub parses the first segment as host.
		baseDir = u.Host + u.Path
	}
	if baseDir == "" {
		return nil, fmt.Errorf("%w: file URI is missing a path", ErrInvalidLocationURI)
	}

	return NewFileBackend(baseDir, f.log)
}

// createS3Backend creates an S3 backend.
// URI format: s3://bucket/prefix?region=us-west-2&access_key=...&secret_key=...
func (f *Factory) createS3Backend(u *url.URL) (describedBackend, error) {
	f.log.Debug("Creating S3 backend", slog.String("bucket", u.Host))

	if u.Host == "" {
		return nil, fmt.Errorf("%w: s3 URI is missing a bucket", ErrInvalidLocationURI)
	}

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Backend(
		u.Host,
		strings.TrimPrefix(u.Path, "/"),
		region,
		query.Get("endpoint"),
		query.Get("access_key"),
		query.Get("secret_key"),
		f.log,
	)
}

// createVaultBackend creates an external Vault KV backend.
// URI format: vault://vault.example.com:8200/kv/secretsd?token=...&scheme=https
func (f *Factory) createVaultBackend(u *url.URL) (describedBackend, error) {
	f.log.Debug("Creating Vault KV backend", slog.String("host", u.Host))

	if u.Host == "" {
		return nil, fmt.Errorf("%w: vault URI is missing a host", ErrInvalidLocationURI)
	}

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: vault URI must be vault://host:port/mount/path", ErrInvalidLocationURI)
	}

	query := u.Query()
	scheme := query.Get("scheme")
	if scheme == "" {
		scheme = "https"
	}

	return NewVaultKVBackend(
		fmt.Sprintf("%s://%s", scheme, u.Host),
		parts[0],
		parts[1],
		query.Get("token"),
		f.log,
	)
}
