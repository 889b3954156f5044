// Package interfaces defines the core contracts and types shared by the
// secrets-management subsystem, separating interface definitions from
// implementations.
//
// # Logical Layer
//
// Request and Response model a single authenticated operation against the
// secrets core. A Backend handles logical requests for one mount; the core
// router resolves a request path to a mount and forwards the mount-relative
// sub-path.
//
// # Storage Layer
//
// PhysicalBackend is raw key/value byte storage with no knowledge of
// encryption; every value it holds for secret key spaces is ciphertext
// produced by the security barrier. MetadataStore is plaintext, structured
// storage for operational data that must be queryable (policies, realms,
// mounts).
//
// # Error Taxonomy
//
// All failure modes surface as one of the sentinel errors declared here
// (ErrSealed, ErrForbidden, ErrNotFound, ...), wrapped with operation
// context. Seal-state and authorization errors are terminal for a request
// and are never downgraded or retried.
package interfaces
