// Package transport provides the point-to-point messaging capability every
// rank uses: blocking tagged sends and receives of float64 payloads,
// scoped by a communicator context id, with per-sender FIFO ordering.
//
// Two fabrics implement Endpoint: an in-process World, where each rank is a
// goroutine, and the gRPC node in package node, where each rank is a process.
package transport
