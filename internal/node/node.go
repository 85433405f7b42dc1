package node

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"collbench/internal/transport"
)

const (
	// abortTimeout bounds the best-effort abort broadcast.
	abortTimeout = 2 * time.Second
	pingInterval = 100 * time.Millisecond
)

// Node is one rank of a multi-process run. It implements transport.Endpoint.
type Node struct {
	rank   int
	addrs  []string
	box    *transport.Mailbox
	logger *slog.Logger

	clientMgr  *ClientManager
	grpcServer *grpc.Server
	lis        net.Listener

	stopOnce sync.Once
	served   chan error
}

var _ transport.Endpoint = (*Node)(nil)

// NewNode creates rank's node. addrs lists every rank's address, its own
// included.
func NewNode(rank int, addrs []string, logger *slog.Logger) (*Node, error) {
	if rank < 0 || rank >= len(addrs) {
		return nil, errors.Errorf("node: rank %d outside %d peers", rank, len(addrs))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{
		rank:      rank,
		addrs:     addrs,
		box:       transport.NewMailbox(),
		logger:    logger.With("rank", rank),
		clientMgr: NewClientManager(),
		served:    make(chan error, 1),
	}, nil
}

// Start listens on addr and serves in the background.
func (n *Node) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	n.Serve(lis)
	return nil
}

// Serve serves the transport on lis in the background.
func (n *Node) Serve(lis net.Listener) {
	n.lis = lis
	n.grpcServer = grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMessageBytes),
		grpc.MaxSendMsgSize(maxMessageBytes),
	)
	RegisterTransportServer(n.grpcServer, NewServer(n.box, n.rank, len(n.addrs), n.logger))

	n.logger.Debug("starting node", "addr", lis.Addr().String())
	go func() {
		n.served <- n.grpcServer.Serve(lis)
	}()
}

// Addr returns the address the node is listening on.
func (n *Node) Addr() string {
	if n.lis == nil {
		return ""
	}
	return n.lis.Addr().String()
}

// WaitReady pings every peer until all of them answer with the expected
// rank, or ctx is done.
func (n *Node) WaitReady(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for peer := range n.addrs {
		if peer == n.rank {
			continue
		}
		g.Go(func() error {
			return n.awaitPeer(gctx, peer)
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "node: peers not ready")
	}
	n.logger.Debug("all peers ready", "size", len(n.addrs))
	return nil
}

func (n *Node) awaitPeer(ctx context.Context, peer int) error {
	client, err := n.clientMgr.GetClient(n.addrs[peer])
	if err != nil {
		return err
	}
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		resp, err := client.Ping(ctx, &emptypb.Empty{}, grpc.WaitForReady(true))
		if err == nil {
			if int(resp.GetValue()) != peer {
				return errors.Errorf("address %s answers as rank %d, expected %d", n.addrs[peer], resp.GetValue(), peer)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "waiting for rank %d: %v", peer, err)
		case <-ticker.C:
		}
	}
}

// Rank returns this node's rank.
func (n *Node) Rank() int { return n.rank }

// Size returns the number of ranks.
func (n *Node) Size() int { return len(n.addrs) }

// Send delivers data to dst. Messages to self skip the network. Sends fail
// fast once a peer is unreachable; call WaitReady before the first one.
func (n *Node) Send(ctx context.Context, dst int, contextID uint64, tag int, data []float64) error {
	if dst < 0 || dst >= len(n.addrs) {
		return errors.Errorf("node: send to rank %d outside world of %d", dst, len(n.addrs))
	}
	if err := n.box.Err(); err != nil {
		return err
	}
	if dst == n.rank {
		msg := make([]float64, len(data))
		copy(msg, data)
		return n.box.Put(contextID, n.rank, tag, msg)
	}

	client, err := n.clientMgr.GetClient(n.addrs[dst])
	if err != nil {
		return err
	}
	env := transport.MarshalEnvelope(transport.Envelope{
		Context: contextID,
		Source:  n.rank,
		Tag:     tag,
		Data:    data,
	})
	if _, err := client.Deliver(ctx, wrapperspb.Bytes(env)); err != nil {
		if aerr := n.box.Err(); aerr != nil {
			return aerr
		}
		return errors.Wrapf(err, "deliver to rank %d", dst)
	}
	return nil
}

// Recv takes the next message from src with the given context and tag.
func (n *Node) Recv(ctx context.Context, src int, contextID uint64, tag int) ([]float64, error) {
	if src < 0 || src >= len(n.addrs) {
		return nil, errors.Errorf("node: recv from rank %d outside world of %d", src, len(n.addrs))
	}
	return n.box.Take(ctx, contextID, src, tag)
}

// Abort fails this rank's mailbox and tells every peer to do the same.
// Peers that cannot be reached are skipped.
func (n *Node) Abort(code int, reason error) {
	msg := "aborted"
	if reason != nil {
		msg = reason.Error()
	}
	n.logger.Error("aborting run", "code", code, "reason", msg)
	n.box.Abort(code, msg)

	req, err := structpb.NewStruct(map[string]any{
		"code":   code,
		"source": n.rank,
		"reason": msg,
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()

	var g errgroup.Group
	for peer, addr := range n.addrs {
		if peer == n.rank {
			continue
		}
		g.Go(func() error {
			client, err := n.clientMgr.GetClient(addr)
			if err != nil {
				return err
			}
			if _, err := client.Abort(ctx, req); err != nil {
				n.logger.Debug("abort not delivered", "peer", peer, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Pending returns the number of received messages not yet taken.
func (n *Node) Pending() int { return n.box.Pending() }

// Close stops the server and closes peer connections.
func (n *Node) Close() error {
	var err error
	n.stopOnce.Do(func() {
		if n.grpcServer != nil {
			n.logger.Debug("stopping node")
			n.grpcServer.GracefulStop()
			if serr := <-n.served; serr != nil && !errors.Is(serr, grpc.ErrServerStopped) {
				err = errors.Wrap(serr, "serve")
			}
		}
		if cerr := n.clientMgr.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

// String identifies the node in logs.
func (n *Node) String() string {
	return fmt.Sprintf("rank %d/%d", n.rank, len(n.addrs))
}
