package twist

import (
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Conn is an established WebSocket connection. It owns the transport and
// drives the connection's middleware stack over it.
//
// Concurrency: one goroutine may read while others write. Writes are
// serialized, so are reads.
type Conn struct {
	raw  net.Conn
	role Role
	opts *Options

	framed *Framed
	// top of the middleware stack, guarded by stackMu.
	stack   Duplex
	stackMu *mu
	readMu  *mu
	readBuf []byte

	logger *zap.Logger

	MetaData sync.Map

	// closed when the conn closes, so every goroutine waiting on it wakes up.
	done      chan struct{}
	isClosed  atomic.Bool
	closeOnce sync.Once
	// written only inside closeOnce.
	closeErr error
}

// newConn wraps an upgraded transport. buffered holds bytes that were read
// past the handshake and belong to the first frames.
func newConn(raw net.Conn, role Role, opts *Options, buffered []byte) *Conn {
	conn := &Conn{
		raw:     raw,
		role:    role,
		opts:    opts,
		framed:  NewFramed(role, raw, opts),
		readBuf: make([]byte, opts.ReadBufferSize),
		logger:  opts.Logger.With(zap.Stringer("role", role), zap.Stringer("remote", raw.RemoteAddr())),
		done:    make(chan struct{}),
	}
	conn.stackMu = newMu(conn)
	conn.readMu = newMu(conn)
	if len(buffered) > 0 {
		conn.framed.Feed(buffered)
	}
	conn.stack = opts.stack(conn.framed, raw.RemoteAddr())
	return conn
}

func (conn *Conn) Role() Role {
	return conn.role
}

// fail closes the connection after a fatal error, telling the peer why when
// the error maps to a close code.
func (conn *Conn) fail(err error) {
	code := CloseCodeFor(err)
	if IsProtocolErr(err) {
		conn.logger.Error("protocol violation", zap.Error(err), zap.Uint16("code", code))
	} else {
		conn.logger.Debug("connection failed", zap.Error(err))
	}
	_ = conn.CloseWithCode(code, err.Error())
}

// CloseWithCode sends a close message with code and reason, then closes the
// transport. Only the first call has any effect; later calls return the
// result of the first.
func (conn *Conn) CloseWithCode(code uint16, reason string) error {
	conn.closeOnce.Do(func() {
		if len(reason) > MaxControlFramePayload-2 {
			reason = strings.ToValidUTF8(reason[:MaxControlFramePayload-2], "")
		}
		var err error
		if !conn.isClosed.Load() {
			err = conn.sendClose(CloseMessage(code, reason))
		}
		conn.closeErr = multierr.Append(err, conn.shutdown())
	})
	return conn.closeErr
}

// sendClose writes msg unless the write path stays busy for WriteWait.
func (conn *Conn) sendClose(msg *Message) error {
	t := time.NewTimer(conn.opts.WriteWait)
	defer t.Stop()
	if err := conn.stackMu.lockTimer(t); err != nil {
		return err
	}
	defer conn.stackMu.unLock()

	return conn.flushMessage(msg)
}

// shutdown marks the conn closed and releases the transport. Only the call
// that actually closes the transport reports its error.
func (conn *Conn) shutdown() error {
	if !conn.isClosed.CompareAndSwap(false, true) {
		return nil
	}
	close(conn.done)
	err := conn.raw.Close()
	conn.logger.Debug("connection closed")
	return err
}

// Close closes the connection normally.
func (conn *Conn) Close() error {
	return conn.CloseWithCode(CloseNormalClosure, "")
}

// IsClosed reports whether the transport has been released.
func (conn *Conn) IsClosed() bool {
	return conn.isClosed.Load()
}
