// Package node is the multi-process transport: every rank runs a small gRPC
// server that accepts message envelopes into its mailbox, and sends to peers
// through cached client connections.
//
// Limitations:
// - Static membership; every rank must be listed in the peer table
// - No reconnection after a peer dies; the run is aborted instead
// - Plaintext connections only
package node
