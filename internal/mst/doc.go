// Package mst implements broadcast, reduce and gather as minimum spanning
// trees built by recursive bisection of a rank range.
//
// At every level the range [left, right] is split at mid = (left+right)/2
// and exactly one message crosses the split: between the current root and
// a representative of the other half (right if the root is in the lower
// half, left otherwise). Both halves then recurse independently, each with
// a root of its own. The depth is ceil(log2 P), which makes the running
// time directly comparable to the alpha-beta model in Model.
package mst
