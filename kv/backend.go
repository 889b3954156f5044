// Package kv implements the key/value secret-engine backend: plain
// read/write/delete/list of JSON documents atop the barrier, keyed by the
// mount-relative path.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/helixcare/secrets-core/interfaces"
)

// Backend is a key/value secret engine. A write creates or overwrites the
// full value at a path; there is no partial-field merge. A deleted path
// reads back as not found, never as an empty value.
type Backend struct {
	view interfaces.PhysicalBackend
	log  *slog.Logger
}

// NewBackend creates a KV engine over a barrier view scoped to its mount.
func NewBackend(view interfaces.PhysicalBackend, log *slog.Logger) *Backend {
	return &Backend{view: view, log: log}
}

// HandleRequest dispatches one mount-relative logical request.
func (b *Backend) HandleRequest(ctx context.Context, req *interfaces.Request) (*interfaces.Response, error) {
	switch req.Operation {
	case interfaces.ReadOperation:
		return b.handleRead(ctx, req)
	case interfaces.WriteOperation:
		return b.handleWrite(ctx, req)
	case interfaces.DeleteOperation:
		return b.handleDelete(ctx, req)
	case interfaces.ListOperation:
		return b.handleList(ctx, req)
	default:
		return nil, fmt.Errorf("%w: unsupported operation %q", interfaces.ErrValidation, req.Operation)
	}
}

func (b *Backend) handleRead(ctx context.Context, req *interfaces.Request) (*interfaces.Response, error) {
	entry, err := b.view.Get(ctx, req.Path)
	if err != nil {
		return nil, err
	}

	var data map[string]interface{}
	if err := json.Unmarshal(entry.Value, &data); err != nil {
		return nil, fmt.Errorf("failed to decode entry at %s: %w", req.Path, err)
	}
	return &interfaces.Response{Data: data}, nil
}

func (b *Backend) handleWrite(ctx context.Context, req *interfaces.Request) (*interfaces.Response, error) {
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: write requires a non-empty body", interfaces.ErrValidation)
	}

	raw, err := json.Marshal(req.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: body is not serializable: %v", interfaces.ErrValidation, err)
	}

	if err := b.view.Put(ctx, &interfaces.PhysicalEntry{Key: req.Path, Value: raw}); err != nil {
		return nil, err
	}

	b.log.Debug("KV entry written", slog.String("path", req.Path))
	return &interfaces.Response{}, nil
}

func (b *Backend) handleDelete(ctx context.Context, req *interfaces.Request) (*interfaces.Response, error) {
	if err := b.view.Delete(ctx, req.Path); err != nil {
		return nil, err
	}

	b.log.Debug("KV entry deleted", slog.String("path", req.Path))
	return &interfaces.Response{}, nil
}

func (b *Backend) handleList(ctx context.Context, req *interfaces.Request) (*interfaces.Response, error) {
	keys, err := b.view.List(ctx, req.Path)
	if err != nil {
		return nil, err
	}
	return &interfaces.Response{
		Data: map[string]interface{}{"keys": keys},
	}, nil
}
