package producer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/frame-relay/internal/frameclient"
	"github.com/kstaniek/frame-relay/internal/queue"
)

// NetworkClient is the Producer variant backed by a remote FrameServer: it
// wraps a frameclient.Client and republishes whatever frames it receives
// onto the local FrameQueue. ChangeFeed here means redialing a different
// server address.
type NetworkClient struct {
	queue *queue.FrameQueue

	mu      sync.Mutex
	addr    string
	client  *frameclient.Client
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewNetworkClient constructs a producer that dials addr and deposits
// received frames into q.
func NewNetworkClient(q *queue.FrameQueue, addr string) *NetworkClient {
	return &NetworkClient{queue: q, addr: addr}
}

func (n *NetworkClient) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running.Load() {
		return fmt.Errorf("network client already running")
	}
	n.start(ctx, n.addr)
	return nil
}

// start must be called with n.mu held.
func (n *NetworkClient) start(parent context.Context, addr string) {
	runCtx, cancel := context.WithCancel(parent)
	client := frameclient.New(addr, n.queue)
	n.addr = addr
	n.client = client
	n.cancel = cancel
	n.running.Store(true)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer n.running.Store(false)
		_ = client.Run(runCtx)
	}()
}

// GetShape is unknown to a network producer until the first frame arrives;
// the queue consumer is expected to inspect the received packet shape
// directly, so this always reports unknown.
func (n *NetworkClient) GetShape() (height, width int, ok bool) { return 0, 0, false }

// ChangeFeed stops the current client and redials addr as the new server.
func (n *NetworkClient) ChangeFeed(addr string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client != nil {
		_ = n.client.Close()
		n.cancel()
		n.wg.Wait()
	}
	n.start(context.Background(), addr)
	return nil
}

func (n *NetworkClient) Close() error {
	n.mu.Lock()
	client := n.client
	cancel := n.cancel
	n.mu.Unlock()
	if client != nil {
		_ = client.Close()
	}
	if cancel != nil {
		cancel()
	}
	n.wg.Wait()
	return nil
}
