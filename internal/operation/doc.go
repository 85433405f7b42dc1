// Package operation defines the benchmarked units. Every Operation is one
// of three kinds: a single collective call (Primitive), the creation and
// release of a group resource (Lifecycle), or a bisection-tree collective
// built from point-to-point messages (Tree).
package operation
