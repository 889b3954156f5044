// Package seal orchestrates the barrier's seal lifecycle.
//
// Initialization generates a fresh root key, splits it into N shares with
// threshold K using Shamir's Secret Sharing, persists the seal
// configuration, and hands the shares back to the caller exactly once -
// the raw shares never exist anywhere else.
//
// Unsealing accumulates presented shares one call at a time, reporting
// progress below threshold. Once K distinct shares are collected they are
// combined and the candidate root key is verified against the barrier's
// stored integrity check before anything is unlocked; a failed check wipes
// the accumulated shares so one bad actor cannot poison the pool.
//
// The package also provides the Keystash: mutex-guarded temporary storage
// for unseal shares and root credentials immediately after initialization,
// with single-use (burn-after-read) entries and TTL expiry enforced both
// lazily on access and by a background sweeper.
package seal
