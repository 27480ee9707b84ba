package service

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/approuter/pkg/commsutil"
)

const poolLogPrefix = "service:pool"

// ConnPool shares COMMS connections between remote services declared on
// other servers. Connections are keyed by URL and kept until CloseAll.
type ConnPool struct {
	mu          sync.RWMutex
	name        string
	connections map[string]*pooledConnection
	connect     func(url string) (*comms.Conn, error)
}

type pooledConnection struct {
	nc          *comms.Conn
	url         string
	connectedAt time.Time
}

// NewConnPool creates a pool whose connections identify as name. The pool
// starts with the default connection, which it never closes.
func NewConnPool(name string, defaultConn *comms.Conn) *ConnPool {
	p := &ConnPool{name: name, connections: map[string]*pooledConnection{}}
	p.connect = func(url string) (*comms.Conn, error) {
		return commsutil.Connect(commsutil.ConnectParams{URL: url, Name: p.name})
	}
	if defaultConn != nil {
		p.connections[""] = &pooledConnection{nc: defaultConn, connectedAt: time.Now()}
	}
	return p
}

// Get returns a connection to url. An empty url returns the default connection.
func (p *ConnPool) Get(url string) (*comms.Conn, error) {
	p.mu.RLock()
	conn, ok := p.connections[url]
	p.mu.RUnlock()
	if ok && !conn.nc.IsClosed() {
		return conn.nc, nil
	}
	if url == "" {
		return nil, fmt.Errorf("%s - no default COMMS connection", poolLogPrefix)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if conn, ok := p.connections[url]; ok && !conn.nc.IsClosed() {
		return conn.nc, nil
	}

	nc, err := p.connect(url)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to %s: %w", poolLogPrefix, url, err)
	}
	p.connections[url] = &pooledConnection{nc: nc, url: url, connectedAt: time.Now()}
	slog.Info(fmt.Sprintf("%s - Connected to remote COMMS %s", poolLogPrefix, url))
	return nc, nil
}

// Len returns the number of pooled connections, including the default one.
func (p *ConnPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.connections)
}

// CloseAll drains every connection the pool opened.
func (p *ConnPool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for url, conn := range p.connections {
		if url == "" {
			continue
		}
		slog.Info(fmt.Sprintf("%s - Closing connection to %s", poolLogPrefix, url))
		if err := conn.nc.Drain(); err != nil {
			conn.nc.Close()
		}
		delete(p.connections, url)
	}
}
