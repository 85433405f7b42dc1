package group

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collbench/internal/memtrack"
	"collbench/internal/transport"
)

func runWorld(t *testing.T, p int, fn func(ctx context.Context, g *Group) error) {
	t.Helper()
	w := transport.NewWorld(p)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := w.Run(ctx, func(ctx context.Context, ep transport.Endpoint) error {
		return fn(ctx, New(ep))
	})
	require.NoError(t, err)
}

func filled(n int, v float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}

var sizes = []int{1, 2, 3, 5, 8}

func TestBarrierAndBcast_EveryRoot(t *testing.T) {
	for _, p := range sizes {
		runWorld(t, p, func(ctx context.Context, g *Group) error {
			for root := 0; root < p; root++ {
				if err := g.Barrier(ctx); err != nil {
					return err
				}
				buf := filled(4, 0)
				if g.Rank() == root {
					buf = filled(4, float64(root+1))
				}
				if err := g.Bcast(ctx, buf, root); err != nil {
					return err
				}
				assert.Equal(t, filled(4, float64(root+1)), buf, "p=%d root=%d rank=%d", p, root, g.Rank())
			}
			return nil
		})
	}
}

func TestReduceAndAllreduce(t *testing.T) {
	for _, p := range sizes {
		runWorld(t, p, func(ctx context.Context, g *Group) error {
			send := []float64{float64(g.Rank() + 1), float64(-g.Rank())}
			for root := 0; root < p; root++ {
				recv := make([]float64, 2)
				if err := g.Reduce(ctx, send, recv, Sum, root); err != nil {
					return err
				}
				if g.Rank() == root {
					want := float64(p * (p + 1) / 2)
					assert.Equal(t, []float64{want, -want + float64(p)}, recv)
				}
			}
			mx, err := g.AllreduceMax(ctx, float64(g.Rank()))
			if err != nil {
				return err
			}
			assert.Equal(t, float64(p-1), mx)

			recv := make([]float64, 2)
			if err := g.Allreduce(ctx, send, recv, Min); err != nil {
				return err
			}
			assert.Equal(t, []float64{1, float64(-(p - 1))}, recv)
			return nil
		})
	}
}

func TestGatherScatter(t *testing.T) {
	const count = 3
	for _, p := range sizes {
		runWorld(t, p, func(ctx context.Context, g *Group) error {
			r := g.Rank()
			root := p - 1
			recv := make([]float64, count*p)
			if err := g.Gather(ctx, filled(count, float64(r)), recv, count, root); err != nil {
				return err
			}
			if r == root {
				for i := 0; i < p; i++ {
					assert.Equal(t, filled(count, float64(i)), recv[i*count:(i+1)*count])
				}
			}

			var src []float64
			if r == 0 {
				src = make([]float64, count*p)
				for i := range src {
					src[i] = float64(i / count * 10)
				}
			}
			part := make([]float64, count)
			if err := g.Scatter(ctx, src, part, count, 0); err != nil {
				return err
			}
			assert.Equal(t, filled(count, float64(r*10)), part)
			return nil
		})
	}
}

func TestAllgatherAlltoall(t *testing.T) {
	for _, p := range sizes {
		runWorld(t, p, func(ctx context.Context, g *Group) error {
			r := g.Rank()
			all := make([]float64, 2*p)
			if err := g.Allgather(ctx, []float64{float64(r), float64(r)}, all, 2); err != nil {
				return err
			}
			for i := 0; i < p; i++ {
				assert.Equal(t, []float64{float64(i), float64(i)}, all[2*i:2*i+2])
			}

			send := make([]float64, p)
			for i := range send {
				send[i] = float64(r*100 + i)
			}
			recv := make([]float64, p)
			if err := g.Alltoall(ctx, send, recv, 1); err != nil {
				return err
			}
			for i := range recv {
				assert.Equal(t, float64(i*100+r), recv[i])
			}
			return nil
		})
	}
}

func TestVectorVariants(t *testing.T) {
	for _, p := range sizes {
		runWorld(t, p, func(ctx context.Context, g *Group) error {
			r := g.Rank()
			counts := make([]int, p)
			displs := make([]int, p)
			total := 0
			for i := range counts {
				counts[i] = i + 1
				displs[i] = total
				total += counts[i]
			}

			mine := filled(r+1, float64(r))
			recv := make([]float64, total)
			if err := g.Allgatherv(ctx, mine, recv, counts, displs); err != nil {
				return err
			}
			for i := 0; i < p; i++ {
				assert.Equal(t, filled(i+1, float64(i)), recv[displs[i]:displs[i]+counts[i]])
			}

			gathered := make([]float64, total)
			if err := g.Gatherv(ctx, mine, gathered, counts, displs, 0); err != nil {
				return err
			}
			if r == 0 {
				assert.Equal(t, recv, gathered)
			}

			part := make([]float64, r+1)
			if err := g.Scatterv(ctx, recv, counts, displs, part, 0); err != nil {
				return err
			}
			assert.Equal(t, mine, part)

			// rank r sends r+1 copies of its rank to everyone
			sendCounts := make([]int, p)
			sendDispls := make([]int, p)
			for i := range sendCounts {
				sendCounts[i] = r + 1
				sendDispls[i] = i * (r + 1)
			}
			out := filled(p*(r+1), float64(r))
			in := make([]float64, total)
			if err := g.Alltoallv(ctx, out, sendCounts, sendDispls, in, counts, displs); err != nil {
				return err
			}
			assert.Equal(t, recv, in)
			return nil
		})
	}
}

func TestScanAndReduceScatter(t *testing.T) {
	for _, p := range sizes {
		runWorld(t, p, func(ctx context.Context, g *Group) error {
			r := g.Rank()
			recv := make([]float64, 1)
			if err := g.Scan(ctx, []float64{float64(r + 1)}, recv, Sum); err != nil {
				return err
			}
			assert.Equal(t, float64((r+1)*(r+2)/2), recv[0])

			counts, _ := Uniform(p, 2)
			part := make([]float64, 2)
			if err := g.ReduceScatter(ctx, filled(2*p, 1), part, counts, Sum); err != nil {
				return err
			}
			assert.Equal(t, filled(2, float64(p)), part)
			return nil
		})
	}
}

func TestRecv_Truncate(t *testing.T) {
	runWorld(t, 2, func(ctx context.Context, g *Group) error {
		if g.Rank() == 0 {
			return g.Send(ctx, 1, 7, []float64{1, 2, 3})
		}
		_, err := g.Recv(ctx, 0, 7, make([]float64, 2))
		assert.ErrorIs(t, err, ErrTruncate)
		return nil
	})
}

func TestSend_RankOutOfRange(t *testing.T) {
	runWorld(t, 1, func(ctx context.Context, g *Group) error {
		assert.ErrorIs(t, g.Send(ctx, 3, 0, nil), ErrRank)
		return nil
	})
}

func TestDup_IsolatesContext(t *testing.T) {
	runWorld(t, 2, func(ctx context.Context, g *Group) error {
		dup, err := g.Dup(ctx)
		if err != nil {
			return err
		}
		assert.NotEqual(t, g.Context(), dup.Context())
		assert.Equal(t, int64(1), g.Outstanding())

		if g.Rank() == 0 {
			if err := g.Send(ctx, 1, 1, []float64{1}); err != nil {
				return err
			}
			if err := dup.Send(ctx, 1, 1, []float64{2}); err != nil {
				return err
			}
		} else {
			buf := make([]float64, 1)
			if _, err := dup.Recv(ctx, 0, 1, buf); err != nil {
				return err
			}
			assert.Equal(t, 2.0, buf[0])
			if _, err := g.Recv(ctx, 0, 1, buf); err != nil {
				return err
			}
			assert.Equal(t, 1.0, buf[0])
		}

		require.NoError(t, dup.Free())
		assert.ErrorIs(t, dup.Free(), ErrFreed)
		assert.ErrorIs(t, dup.Send(ctx, 0, 0, nil), ErrFreed)
		assert.Zero(t, g.Outstanding())
		return nil
	})
}

func TestCreateAndSplit(t *testing.T) {
	runWorld(t, 6, func(ctx context.Context, g *Group) error {
		r := g.Rank()
		sub, err := g.Create(ctx, []int{4, 2, 0})
		if err != nil {
			return err
		}
		if r%2 == 0 {
			require.NotNil(t, sub)
			assert.Equal(t, 3, sub.Size())
			assert.Equal(t, 2-r/2, sub.Rank())
			if err := sub.Barrier(ctx); err != nil {
				return err
			}
			require.NoError(t, sub.Free())
		} else {
			assert.Nil(t, sub)
		}

		color := r % 2
		if r == 5 {
			color = Undefined
		}
		half, err := g.Split(ctx, color, -r)
		if err != nil {
			return err
		}
		if r == 5 {
			assert.Nil(t, half)
			return nil
		}
		require.NotNil(t, half)
		mx, err := half.AllreduceMax(ctx, float64(r))
		if err != nil {
			return err
		}
		if color == 0 {
			assert.Equal(t, 3, half.Size())
			assert.Equal(t, 4.0, mx)
			assert.Equal(t, (4-r)/2, half.Rank())
		} else {
			assert.Equal(t, 2, half.Size())
			assert.Equal(t, 3.0, mx)
		}
		require.NoError(t, half.Free())
		assert.Zero(t, g.Outstanding())
		return nil
	})
}

func TestWindow_PutFence(t *testing.T) {
	const p = 4
	runWorld(t, p, func(ctx context.Context, g *Group) error {
		r := g.Rank()
		base := make([]float64, p)
		win, err := g.CreateWindow(ctx, base)
		if err != nil {
			return err
		}
		assert.Equal(t, p, win.Size((r+1)%p))
		for dst := 0; dst < p; dst++ {
			require.NoError(t, win.Put(dst, r, []float64{float64(r + 1)}))
		}
		assert.Error(t, win.Put(0, p, []float64{1}))
		if err := win.Fence(ctx); err != nil {
			return err
		}
		assert.Equal(t, []float64{1, 2, 3, 4}, base)

		require.NoError(t, win.Free(ctx))
		assert.ErrorIs(t, win.Free(ctx), ErrFreed)
		assert.Zero(t, g.Outstanding())
		return nil
	})
}

func TestCart(t *testing.T) {
	runWorld(t, 8, func(ctx context.Context, g *Group) error {
		cart, err := g.CreateCart(ctx, []int{2, 2})
		if err != nil {
			return err
		}
		if g.Rank() >= 4 {
			assert.Nil(t, cart)
			return nil
		}
		require.NotNil(t, cart)
		assert.Equal(t, 4, cart.Size())
		assert.Equal(t, g.Rank(), cart.Rank())
		assert.Equal(t, []int{2, 2}, cart.dims)
		if err := cart.Barrier(ctx); err != nil {
			return err
		}
		require.NoError(t, cart.Free())
		assert.ErrorIs(t, cart.Free(), ErrFreed)
		assert.Zero(t, g.Outstanding())
		return nil
	})
}

func TestCreateCart_Invalid(t *testing.T) {
	runWorld(t, 2, func(ctx context.Context, g *Group) error {
		_, err := g.CreateCart(ctx, []int{4})
		assert.ErrorIs(t, err, ErrTopology)
		_, err = g.CreateCart(ctx, nil)
		assert.ErrorIs(t, err, ErrTopology)
		return nil
	})
}

func TestCartDims(t *testing.T) {
	tests := []struct {
		p, ndims int
		want     []int
	}{
		{1, 1, []int{1}},
		{8, 1, []int{8}},
		{8, 2, []int{2, 4}},
		{16, 2, []int{4, 4}},
		{8, 3, []int{2, 2, 2}},
		{32, 3, []int{2, 2, 8}},
		{64, 3, []int{4, 4, 4}},
	}
	for _, tt := range tests {
		got, err := CartDims(tt.p, tt.ndims)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "p=%d ndims=%d", tt.p, tt.ndims)
	}

	_, err := CartDims(6, 2)
	assert.ErrorIs(t, err, ErrTopology)
	_, err = CartDims(8, 4)
	assert.ErrorIs(t, err, ErrTopology)
}

func TestResources_TrackedThroughRecorder(t *testing.T) {
	w := transport.NewWorld(2)
	trackers := []*memtrack.Tracker{memtrack.New(), memtrack.New()}
	for _, tr := range trackers {
		tr.Install()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := w.Run(ctx, func(ctx context.Context, ep transport.Endpoint) error {
		tr := trackers[ep.Rank()]
		g := New(ep, WithRecorder(tr))
		dup, err := g.Dup(ctx)
		if err != nil {
			return err
		}
		assert.Equal(t, uint64(2*8), tr.Current())
		require.NoError(t, dup.Free())
		assert.Zero(t, tr.Current())
		assert.Equal(t, uint64(16), tr.Peak())
		return nil
	})
	require.NoError(t, err)
}
