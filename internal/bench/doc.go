// Package bench runs a whole benchmark: it builds the operation list,
// synchronizes clocks, measures every operation with the sampling
// controller, records results and prints the final memory summary.
package bench
