package twist

import (
	"context"
	"net"
	"time"
)

// aLongTimeAgo is a deadline that fails pending transport calls immediately.
var aLongTimeAgo = time.Unix(1, 0)

// Returns the underlying net conn.
func (conn *Conn) NetConn() net.Conn {
	return conn.raw
}

func (conn *Conn) LocalAddr() net.Addr {
	return conn.raw.LocalAddr()
}

func (conn *Conn) RemoteAddr() net.Addr {
	return conn.raw.RemoteAddr()
}

// deadline returns now+wait, or the context deadline when it is earlier.
func deadline(ctx context.Context, wait time.Duration) time.Time {
	d := time.Now().Add(wait)
	if dl, ok := ctx.Deadline(); ok && dl.Before(d) {
		return dl
	}
	return d
}

// mu is a mutex that can give up when the conn closes or a context ends.
type mu struct {
	conn *Conn
	ch   chan struct{}
}

func newMu(c *Conn) *mu {
	return &mu{conn: c, ch: make(chan struct{}, 1)}
}

func (m *mu) unLock() {
	<-m.ch
}

func (m *mu) lockCtx(ctx context.Context) error {
	select {
	case <-m.conn.done:
		return ErrConnClosed
	default:
	}
	select {
	case <-m.conn.done:
		return ErrConnClosed
	case m.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lockTimer acquires the lock even after the conn is marked closed, so a
// close message can still be written.
func (m *mu) lockTimer(t *time.Timer) error {
	select {
	case m.ch <- struct{}{}:
		return nil
	case <-t.C:
		return ErrWriteTimeout
	}
}
