// Package sampling drives an operation through warmup and synchronized
// measurement rounds and reduces the per-rank timings into one result on
// the coordinator (rank 0).
//
// A round is kept or discarded as a whole. Trials whose start was late on
// any rank are invalid; invalid slots are backfilled from valid trials at
// the end of the round. If more than a quarter of a round is invalid, or
// fewer than four trials survive, the window is doubled and the round is
// repeated. Kept trials are reduced across ranks with max, so every sample
// is the time of the slowest rank.
package sampling
