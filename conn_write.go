package twist

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// flushMessage hands msg to the stack and drives it until msg is accepted and
// everything pending has reached the transport. The caller holds stackMu.
//
// Errors from StartSend mean msg was refused and nothing was written; errors
// from PollComplete are transport failures.
func (conn *Conn) flushMessage(msg *Message) error {
	if err := conn.raw.SetWriteDeadline(time.Now().Add(conn.opts.WriteWait)); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	for {
		ok, err := conn.stack.StartSend(msg)
		if err != nil {
			return err
		}
		if _, err := conn.stack.PollComplete(); err != nil {
			return &transportError{err}
		}
		if ok {
			return nil
		}
	}
}

// transportError marks failures that leave the connection unusable.
type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return e.err.Error()
}

func (e *transportError) Unwrap() error {
	return e.err
}

// WriteMessage sends msg and waits until it has been written to the transport.
// Pending pongs are written first. ctx bounds the wait for other writers.
func (conn *Conn) WriteMessage(ctx context.Context, msg *Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if conn.isClosed.Load() {
		return ErrConnClosed
	}

	if err := conn.stackMu.lockCtx(ctx); err != nil {
		return err
	}
	err := conn.flushMessage(msg)
	conn.stackMu.unLock()

	var te *transportError
	if errors.As(err, &te) {
		conn.logger.Debug("write failed", zap.Error(te.err))
		conn.shutdown()
	}
	return err
}

// SendBinary sends b as a binary message.
//
// The payload must be non-empty. If not, the method returns twist.ErrEmptyPayload.
// Messages larger than Options.WriteFragmentSize are sent as fragments.
func (conn *Conn) SendBinary(ctx context.Context, b []byte) error {
	if len(b) == 0 {
		return ErrEmptyPayload
	}
	return conn.WriteMessage(ctx, BinaryMessage(b))
}

// SendText sends str as a text message.
//
// The string must be valid UTF-8 and non-empty. If it is not, the method returns
// twist.ErrEmptyPayload or twist.ErrInvalidUTF8.
func (conn *Conn) SendText(ctx context.Context, str string) error {
	if str == "" {
		return ErrEmptyPayload
	}
	if !utf8.ValidString(str) {
		return ErrInvalidUTF8
	}
	return conn.WriteMessage(ctx, TextMessage([]byte(str)))
}

// SendJSON sends the given value as a JSON-encoded text message.
func (conn *Conn) SendJSON(ctx context.Context, v any) error {
	if v == nil {
		return ErrEmptyPayload
	}
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal json message")
	}
	return conn.WriteMessage(ctx, TextMessage(b))
}

// Ping sends a ping with data, at most 125 bytes. The matching pong is
// consumed by the read path.
func (conn *Conn) Ping(ctx context.Context, data []byte) error {
	if len(data) > MaxControlFramePayload {
		return ErrControlTooLarge
	}
	return conn.WriteMessage(ctx, PingMessage(data))
}
