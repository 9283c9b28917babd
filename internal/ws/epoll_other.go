//go:build !linux

package ws

import (
	"bufio"
	"net"
	"sync"
)

// Epoll is the portable stand-in for the Linux poller used on developer
// machines. Each connection gets a goroutine that peeks one byte and then
// waits for the server to finish reading before peeking again.
type Epoll struct {
	mu      sync.Mutex
	resume  map[net.Conn]chan struct{}
	readyCh chan net.Conn
	done    chan struct{}
}

// NewEpoll creates a fallback poller.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		resume:  make(map[net.Conn]chan struct{}),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// peekConn serves reads from the buffer the monitor peeks into, so no byte
// is lost to readiness detection.
type peekConn struct {
	net.Conn
	r *bufio.Reader
}

func (p *peekConn) Read(b []byte) (int, error) { return p.r.Read(b) }

// Wrap returns a buffered connection that must be used for every read.
func (e *Epoll) Wrap(conn net.Conn) net.Conn {
	return &peekConn{Conn: conn, r: bufio.NewReader(conn)}
}

// Add starts monitoring a connection returned by Wrap.
func (e *Epoll) Add(conn net.Conn) error {
	pc, ok := conn.(*peekConn)
	if !ok {
		pc = e.Wrap(conn).(*peekConn)
	}
	resume := make(chan struct{}, 1)
	e.mu.Lock()
	e.resume[conn] = resume
	e.mu.Unlock()

	go e.monitor(conn, pc, resume)
	return nil
}

func (e *Epoll) monitor(key net.Conn, pc *peekConn, resume chan struct{}) {
	for {
		_, err := pc.r.Peek(1)
		select {
		case e.readyCh <- key:
		case <-e.done:
			return
		}
		if err != nil {
			return
		}
		select {
		case <-resume:
		case <-e.done:
			return
		}
	}
}

// Rearm lets the monitor peek again once the server has consumed a frame.
func (e *Epoll) Rearm(conn net.Conn) {
	e.mu.Lock()
	resume, ok := e.resume[conn]
	e.mu.Unlock()
	if !ok {
		return
	}
	select {
	case resume <- struct{}{}:
	default:
	}
}

// Remove stops tracking conn. The monitor goroutine exits once the
// connection is closed.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	delete(e.resume, conn)
	e.mu.Unlock()
	return nil
}

// Wait blocks until at least one connection is ready and drains any others
// that are ready without blocking.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var first net.Conn
	select {
	case first = <-e.readyCh:
	case <-e.done:
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close shuts the poller down.
func (e *Epoll) Close() error {
	close(e.done)
	e.mu.Lock()
	e.resume = make(map[net.Conn]chan struct{})
	e.mu.Unlock()
	return nil
}

func isEINTR(error) bool { return false }

func socketFD(net.Conn) int { return -1 }
