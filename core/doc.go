// Package core wires the barrier, seal manager, router, and the policy,
// token, and realm stores into one request pipeline.
//
// Every logical request passes the same gauntlet: the barrier must be
// unsealed, the path must resolve to a mount, the client token must be
// live, the token's realm must be allowed to touch the mount's realm,
// and the token's policies must grant the capability the operation
// demands. Only then does the mounted backend see the request, with a
// mount-relative path.
//
// Initialization is the one place the root key exists outside operator
// hands: the core generates it, splits it into Shamir shares, uses it
// once to set up storage and mint the root token, then wipes it and
// leaves the barrier sealed until a share quorum arrives.
package core
