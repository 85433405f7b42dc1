// Package group implements process groups on top of a transport.Endpoint:
// communicators with isolated message contexts, the collective operations
// the harness measures and relies on, and the scoped resources whose
// creation cost is benchmarked (duplicated and split groups, one-sided
// windows, Cartesian topologies).
//
// Every collective must be called by all members of the group in the same
// order. Ranks passed to and returned from a Group are group ranks.
package group
