// Package clocksync gives the ranks of a group a shared schedule for the
// start of every timed trial.
//
// The window strategy estimates each rank's clock offset to rank 0 once
// (Stage1), derives a common start instant and a window length from the
// estimated runtime of the operation (Stage2), and then releases every
// trial at Next, advancing Next by the window after each one (Sync). A rank
// that arrives after its target reports how late it was; the sampling
// controller treats such trials as invalid.
//
// The barrier and dissemination strategies only align ranks at a
// rendezvous and always report zero error.
package clocksync
