package node

import (
	"math"
	"sync"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// maxMessageBytes lifts gRPC's 4 MiB default so large collectives fit in
// one envelope.
const maxMessageBytes = math.MaxInt32

// ClientManager manages gRPC clients to peer ranks.
type ClientManager struct {
	mu      sync.RWMutex
	conns   map[string]*grpc.ClientConn
	clients map[string]TransportClient
}

// NewClientManager creates a new client manager.
func NewClientManager() *ClientManager {
	return &ClientManager{
		conns:   make(map[string]*grpc.ClientConn),
		clients: make(map[string]TransportClient),
	}
}

// GetClient returns a client for the given address.
// Creates a new connection if one doesn't exist. Connections are lazy;
// the first RPC establishes them.
func (cm *ClientManager) GetClient(addr string) (TransportClient, error) {
	cm.mu.RLock()
	client, exists := cm.clients[addr]
	cm.mu.RUnlock()

	if exists {
		return client, nil
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	// Double-check after acquiring write lock
	if client, exists := cm.clients[addr]; exists {
		return client, nil
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMessageBytes),
			grpc.MaxCallSendMsgSize(maxMessageBytes),
		),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", addr)
	}

	client = NewTransportClient(conn)
	cm.conns[addr] = conn
	cm.clients[addr] = client
	return client, nil
}

// Close closes all client connections.
func (cm *ClientManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var first error
	for addr, conn := range cm.conns {
		if err := conn.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "close %s", addr)
		}
	}
	cm.conns = make(map[string]*grpc.ClientConn)
	cm.clients = make(map[string]TransportClient)
	return first
}
