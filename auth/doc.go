// Package auth implements authentication backends. Each method satisfies
// a single contract, CredentialBackend: verify externally supplied
// credentials and return the policy set to bind. The Backend adapter
// turns any method into a mountable logical backend whose login path
// mints tokens through the token store.
//
// Two methods ship in-tree:
//
//   - userpass: username and password, with the password stretched by
//     Argon2id before comparison. Records live behind the barrier at
//     users/<name> relative to the mount's view.
//   - approle: machine-oriented role-id plus secret-id pairs. Secret IDs
//     are stored hashed and are single use.
package auth
