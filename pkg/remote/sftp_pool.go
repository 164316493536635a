package remote

import (
	"fmt"
	"sync"

	"github.com/pkg/sftp"
)

// clientPool manages a fixed-size pool of SFTP clients over a single SSH
// connection, using a channel-based semaphore. Pool size bounds the number
// of concurrent remote operations.
type clientPool struct {
	conn    *Connection
	clients chan *sftp.Client
	size    int
	mu      sync.Mutex
	closed  bool
}

// newClientPool pre-creates size SFTP clients over conn.
func newClientPool(conn *Connection, size int) (*clientPool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool size must be greater than 0, got %d", size)
	}

	pool := &clientPool{
		conn:    conn,
		clients: make(chan *sftp.Client, size),
		size:    size,
	}

	for i := range size {
		client, err := conn.NewSFTPClient()
		if err != nil {
			// Close any clients created so far
			close(pool.clients)
			for c := range pool.clients {
				_ = c.Close()
			}

			return nil, fmt.Errorf("failed to create client %d/%d: %w", i+1, size, err)
		}

		pool.clients <- client
	}

	return pool, nil
}

// acquire retrieves a client, blocking until one is available.
func (p *clientPool) acquire() (*sftp.Client, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool is closed")
	}
	p.mu.Unlock()

	// Block on channel - this is the semaphore pattern. When the pool is
	// exhausted the goroutine waits here until release() returns a client.
	return <-p.clients, nil
}

// release returns a client to the pool.
func (p *clientPool) release(client *sftp.Client) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if closed {
		_ = client.Close()
		return
	}

	p.clients <- client
}

// close closes the pool and all clients in it. Idempotent. Does not close the
// underlying SSH connection, which the pool does not own.
func (p *clientPool) close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.clients)

	var firstErr error

	for client := range p.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
