package mst

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// ErrTooFewPoints is returned by Fit with fewer than two distinct sizes.
var ErrTooFewPoints = errors.New("mst: need measurements at two or more sizes")

// Model is the alpha-beta cost model. Alpha is the per-message latency in
// seconds, Beta the transfer time per element and Gamma the time to
// combine one element.
type Model struct {
	Alpha float64
	Beta  float64
	Gamma float64
}

// Depth returns the number of tree levels for p ranks.
func Depth(p int) int {
	if p <= 1 {
		return 0
	}
	return int(math.Ceil(math.Log2(float64(p))))
}

// Bcast predicts a broadcast of n elements to p ranks:
// depth * (alpha + n*beta).
func (m Model) Bcast(p int, n float64) float64 {
	return float64(Depth(p)) * (m.Alpha + n*m.Beta)
}

// Reduce predicts a reduction of n elements over p ranks:
// depth * (alpha + n*beta + n*gamma).
func (m Model) Reduce(p int, n float64) float64 {
	return float64(Depth(p)) * (m.Alpha + n*(m.Beta+m.Gamma))
}

// Gather predicts gathering n elements in total from p ranks:
// depth*alpha + (p-1)/p * n * beta.
func (m Model) Gather(p int, n float64) float64 {
	if p <= 1 {
		return 0
	}
	return float64(Depth(p))*m.Alpha + float64(p-1)/float64(p)*n*m.Beta
}

// Point is one measured broadcast or reduction: P ranks, N elements, T
// seconds.
type Point struct {
	P int
	N float64
	T float64
}

// Fit estimates Alpha and Beta from broadcast measurements by least squares
// on T/depth = alpha + N*beta.
func Fit(points []Point) (Model, error) {
	xs := make([]float64, 0, len(points))
	ys := make([]float64, 0, len(points))
	distinct := map[float64]bool{}
	for _, pt := range points {
		d := Depth(pt.P)
		if d == 0 {
			continue
		}
		xs = append(xs, pt.N)
		ys = append(ys, pt.T/float64(d))
		distinct[pt.N] = true
	}
	if len(distinct) < 2 {
		return Model{}, ErrTooFewPoints
	}
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	return Model{Alpha: alpha, Beta: beta}, nil
}

// FitGamma estimates Gamma from reduce measurements, given Alpha and Beta.
func (m Model) FitGamma(points []Point) Model {
	gammas := make([]float64, 0, len(points))
	for _, pt := range points {
		d := Depth(pt.P)
		if d == 0 || pt.N == 0 {
			continue
		}
		gammas = append(gammas, (pt.T/float64(d)-m.Alpha-pt.N*m.Beta)/pt.N)
	}
	if len(gammas) > 0 {
		m.Gamma = stat.Mean(gammas, nil)
	}
	return m
}
