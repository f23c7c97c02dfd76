package twist

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// poll asks the stack for the next message and pushes out anything it queued
// meanwhile, such as pongs.
func (conn *Conn) poll(ctx context.Context) (*Message, error) {
	if err := conn.stackMu.lockCtx(ctx); err != nil {
		return nil, err
	}
	defer conn.stackMu.unLock()

	// a broken transport shows up on the write itself.
	_ = conn.raw.SetWriteDeadline(time.Now().Add(conn.opts.WriteWait))
	msg, err := conn.stack.Poll()
	if err != nil || msg != nil {
		return msg, err
	}
	if _, err := conn.stack.PollComplete(); err != nil {
		return nil, &transportError{err}
	}
	return nil, nil
}

// feed hands bytes already taken off the transport to the stack. It ignores
// ctx cancellation, the bytes would be lost otherwise.
func (conn *Conn) feed(ctx context.Context, p []byte, eof bool) error {
	if err := conn.stackMu.lockCtx(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	defer conn.stackMu.unLock()

	conn.framed.Feed(p)
	if eof {
		conn.framed.CloseRead()
	}
	return nil
}

// ReadMessage blocks until the next Text, Binary or Close message arrives.
// Pings are answered and pongs are consumed on the way.
//
// A received Close is answered and the transport is closed before the close
// message is returned. Protocol violations close the connection with the
// matching code and are returned as *ProtocolError. io.EOF means the peer went
// away without a close message.
func (conn *Conn) ReadMessage(ctx context.Context) (*Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if conn.isClosed.Load() {
		return nil, ErrConnClosed
	}
	if err := conn.readMu.lockCtx(ctx); err != nil {
		return nil, err
	}
	defer conn.readMu.unLock()

	for {
		msg, err := conn.poll(ctx)
		switch {
		case err != nil:
			return nil, conn.readFailed(err)
		case msg == nil:
		case msg.IsClose():
			conn.replyClose(msg)
			return msg, nil
		default:
			return msg, nil
		}

		if err := conn.readTransport(ctx); err != nil {
			return nil, err
		}
	}
}

func (conn *Conn) readFailed(err error) error {
	var te *transportError
	switch {
	case errors.Is(err, ErrConnClosed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	case errors.Is(err, io.EOF):
		conn.shutdown()
	case errors.As(err, &te):
		conn.logger.Debug("write failed", zap.Error(te.err))
		conn.shutdown()
	default:
		conn.fail(err)
	}
	return err
}

// replyClose answers a received close with the same status code and no
// reason, then releases the transport. A close without a body is answered
// with an empty body.
func (conn *Conn) replyClose(msg *Message) {
	code, reason, _ := msg.CloseCode()
	conn.logger.Debug("close received", zap.Uint16("code", code), zap.String("reason", reason))
	_ = conn.CloseWithCode(code, "")
}

// readTransport waits for the next chunk of bytes and feeds it to the stack.
func (conn *Conn) readTransport(ctx context.Context) error {
	// ctx is enforced by the AfterFunc below, so a read timeout always means
	// ReadWait elapsed.
	_ = conn.raw.SetReadDeadline(time.Now().Add(conn.opts.ReadWait))
	stop := context.AfterFunc(ctx, func() {
		_ = conn.raw.SetReadDeadline(aLongTimeAgo)
	})
	n, err := conn.raw.Read(conn.readBuf)
	stop()

	eof := errors.Is(err, io.EOF)
	if n > 0 || eof {
		if ferr := conn.feed(ctx, conn.readBuf[:n], eof); ferr != nil {
			return ferr
		}
	}
	if err == nil || eof {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		conn.logger.Debug("read timeout", zap.Duration("wait", conn.opts.ReadWait))
		_ = conn.CloseWithCode(CloseGoingAway, ErrReadTimeout.Error())
		return ErrReadTimeout
	}
	if conn.isClosed.Load() {
		return ErrConnClosed
	}
	conn.shutdown()
	return errors.Wrap(err, "read transport")
}

// ReadJSON reads a text message and unmarshals its payload into v.
//
// If the message is not of type text, it returns twist.ErrMessageTypeMismatch
// without closing the connection.
func (conn *Conn) ReadJSON(ctx context.Context, v any) error {
	msg, err := conn.ReadMessage(ctx)
	if err != nil {
		return err
	}
	if !msg.IsText() {
		return ErrMessageTypeMismatch
	}
	return json.Unmarshal(msg.Data, v)
}
