// Package barrier implements the security barrier: the encryption boundary
// through which every persisted byte passes.
//
// While unsealed, the barrier encrypts each value with AES-256-GCM under an
// in-memory barrier key before forwarding ciphertext to the physical
// backend, and decrypts on the way back. While sealed, every operation
// fails with interfaces.ErrSealed and has no side effect.
//
// # Keying
//
// Two tiers of keys protect the data:
//
//   - The barrier key encrypts every barrier entry. It is generated at
//     initialization and persisted wrapped (encrypted) under the root key.
//   - The root key wraps the barrier key and is never persisted. It is
//     reconstructed transiently from threshold shares at every unseal and
//     wiped from memory at seal.
//
// A keyed-BLAKE3 check value over a fixed context string is persisted at
// initialization; an unseal candidate root key must reproduce it exactly
// before the wrapped barrier key is touched. The check value is a MAC - it
// reveals nothing about the key.
//
// # Entry Format
//
// Each stored value is a 4-byte big-endian key term, a 12-byte GCM nonce
// (fresh per write, never reused for a key), and the ciphertext. The
// logical key path is bound as AEAD associated data, so an entry copied to
// another path fails authentication with interfaces.ErrIntegrity.
//
// Paths themselves are not treated as secret: List passes prefix
// enumeration through to the physical backend unchanged.
package barrier
