package clocksync

import "math"

// Role is a rank's part in one butterfly round.
type Role int

const (
	Idle Role = iota
	Client
	Server
)

func (r Role) String() string {
	switch r {
	case Client:
		return "client"
	case Server:
		return "server"
	}
	return "idle"
}

// IsPowerOfTwo reports whether p is a positive power of two.
func IsPowerOfTwo(p int) bool {
	return p > 0 && p&(p-1) == 0
}

// Rounds returns the number of butterfly rounds for p ranks, ceil(log2 p).
func Rounds(p int) int {
	n := 0
	for dist := 1; dist < p; dist <<= 1 {
		n++
	}
	return n
}

// RoleOf returns rank's role and peer in the round with the given distance.
// A client has rank%(2*dist) == 0 and measures against rank+dist; a server
// has rank%(2*dist) == dist and answers rank-dist.
func RoleOf(rank, dist, p int) (Role, int) {
	switch rank % (2 * dist) {
	case 0:
		if rank+dist < p {
			return Client, rank + dist
		}
	case dist:
		return Server, rank - dist
	}
	return Idle, -1
}

// MergeOffsets folds offsets measured by the server at peer, relative to
// peer, into diffs, which is relative to the caller. diffs[peer] must
// already hold the caller's offset to peer.
func MergeOffsets(diffs []float64, peer int, known []float64) {
	for i, d := range known {
		diffs[peer+i+1] = diffs[peer] + d
	}
}

// Probe is one round trip as seen by the client.
type Probe struct {
	Send   float64 // client time when the probe left
	Remote float64 // server time in the reply
	Recv   float64 // client time when the reply arrived
}

// RTT returns the round-trip time.
func (p Probe) RTT() float64 { return p.Recv - p.Send }

// Offset returns client time minus server time, assuming the reply was
// stamped halfway through the round trip.
func (p Probe) Offset() float64 { return p.Send + p.RTT()/2 - p.Remote }

// Estimator keeps the offset of the fastest round trip seen so far.
type Estimator struct {
	notSmaller int
	best       float64
	offset     float64
	streak     int
	probes     int
}

// NewEstimator returns an estimator that is done after notSmaller
// consecutive probes fail to beat the fastest one.
func NewEstimator(notSmaller int) *Estimator {
	return &Estimator{notSmaller: notSmaller, best: math.Inf(1)}
}

// Observe records p and reports whether the measurement is done.
func (e *Estimator) Observe(p Probe) bool {
	e.probes++
	if rtt := p.RTT(); rtt < e.best {
		e.best = rtt
		e.offset = p.Offset()
		e.streak = 0
		return false
	}
	e.streak++
	return e.streak >= e.notSmaller
}

// Offset returns the offset taken at the fastest round trip.
func (e *Estimator) Offset() float64 { return e.offset }

// BestRTT returns the fastest round trip observed.
func (e *Estimator) BestRTT() float64 { return e.best }

// Probes returns the number of probes observed.
func (e *Estimator) Probes() int { return e.probes }

// EstimateOffset replays a recorded trace and returns the offset the client
// would settle on and how many probes it would consume. ok is false if the
// trace ends before the measurement completes.
func EstimateOffset(trace []Probe, notSmaller int) (offset float64, used int, ok bool) {
	e := NewEstimator(notSmaller)
	for _, p := range trace {
		if e.Observe(p) {
			return e.Offset(), e.Probes(), true
		}
	}
	return e.Offset(), e.Probes(), false
}
