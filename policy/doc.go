// Package policy implements the capability-based authorization engine.
//
// A policy is a named, ordered set of path rules; each rule binds a glob
// pattern to a capability set drawn from read, write, delete, list, sudo,
// and deny. Evaluation is deny-by-default: an operation is permitted only
// if an explicit matching capability grants it.
//
// # Precedence
//
// Within one policy, the most specific rule matching the request path
// wins: an exact path beats a glob pattern, and among glob patterns the
// one with the longest literal prefix beats the rest, with a bare
// wildcard last. Across the policies attached to a token, the granted
// capabilities of each policy's most specific matching rule are unioned -
// unless any of those rules carries deny, which overrides every grant.
package policy
