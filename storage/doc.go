// Package storage provides the persistence layer beneath the secrets core:
// physical key/value backends, the plaintext metadata store, and the
// adapter composing the two behind one surface.
//
// # Physical Backends
//
// A physical backend stores opaque bytes under string keys. Backends are
// selected by URI through the Factory:
//
//   - file:///var/lib/secretsd/data
//   - inmem://
//   - s3://bucket-name/prefix/?region=us-west-2
//   - vault://vault.example.com:8200/kv/secretsd
//
// The file backend keeps one file per leaf key with the directory structure
// mirroring key path segments. The S3 and Vault backends host the same
// opaque entries in remote object/KV storage; the values they see are
// ciphertext produced by the barrier, so the remote operator learns nothing
// beyond key paths.
//
// # Metadata Store
//
// The metadata store holds structured, queryable operational data (policy
// rows, realms, mounts) in plaintext. The SQL implementation keeps one row
// per key in metadata_entries(key, value, updated_at) with upsert-on-write
// semantics. An in-memory implementation backs tests and single-node dev
// mode.
//
// # Adapter
//
// Adapter pairs the encrypted barrier view with the metadata store. Callers
// choose which store a given key space uses; the adapter never mixes the
// two for a single logical key.
package storage
