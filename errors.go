package twist

import (
	"github.com/pkg/errors"
)

// ProtocolError is a fatal RFC 6455 violation. The connection that produced it
// must be closed, Code is the close code to send before doing so.
type ProtocolError struct {
	Code uint16
	Err  error
}

func (e *ProtocolError) Error() string {
	return e.Err.Error()
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsProtocolErr reports whether err is, or wraps, a *ProtocolError.
func IsProtocolErr(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProtocolError
	return errors.As(err, &pe)
}

func protocolErr(err error) error {
	return protocolErrWithCode(CloseProtocolError, err)
}

func protocolErrWithCode(code uint16, err error) error {
	if err == nil {
		return nil
	}
	return &ProtocolError{Code: code, Err: err}
}

// CloseCodeFor returns the close code that should be sent to the peer when a
// connection fails with err.
func CloseCodeFor(err error) uint16 {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CloseInternalServerErr
}

// HandshakeError is a failure of the opening handshake. No frame traffic may
// follow it.
type HandshakeError struct {
	Err error
}

func (e *HandshakeError) Error() string {
	return "handshake: " + e.Err.Error()
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

func IsHandshakeErr(err error) bool {
	if err == nil {
		return false
	}
	var he *HandshakeError
	return errors.As(err, &he)
}

func handshakeErr(err error) error {
	if err == nil {
		return nil
	}
	return &HandshakeError{Err: err}
}

var (
	// frame codec
	ErrReservedBits          = errors.New("non-zero reserved bits set without negotiated extension")
	ErrReservedOpcode        = errors.New("reserved opcode")
	ErrFragmentedControl     = errors.New("control frame must not be fragmented")
	ErrControlTooLarge       = errors.New("control frame payload exceeds 125 bytes")
	ErrMaskedFrame           = errors.New("received masked frame, frames from the server must not be masked")
	ErrUnmaskedFrame         = errors.New("received unmasked frame, all frames from the client must be masked")
	ErrInvalidPayloadLength  = errors.New("invalid payload length: most significant bit of 64-bit length is set")
	ErrFrameTooLarge         = errors.New("frame payload length too large")
	ErrPayloadLengthMismatch = errors.New("payload length does not match frame data")

	// message assembly
	ErrUnexpectedContinuation = errors.New("invalid frame sequence: continuation without a started message")
	ErrExpectedContinuation   = errors.New("invalid frame sequence: expected continuation")
	ErrMessageTooLarge        = errors.New("message too large")
	ErrInvalidUTF8            = errors.New("invalid utf8 data")
	ErrInvalidClosePayload    = errors.New("invalid close frame payload")
	ErrInvalidCloseCode       = errors.New("invalid close code")
	ErrInvalidFragmentCount   = errors.New("fragment count must be positive")

	// middleware
	ErrMissingBaseFrame = errors.New("couldn't extract base frame")
	ErrPingFlood        = errors.New("ping rate exceeded")
	ErrRateLimited      = errors.New("message rate exceeded")

	// handshake
	ErrWrongMethod             = errors.New("wrong method, the request method must be GET")
	ErrBadHTTPVersion          = errors.New("unsupported HTTP version, must be HTTP/1.1 or later")
	ErrMissingHost             = errors.New("missing Host header")
	ErrMissingUpgradeHeader    = errors.New("missing Upgrade header")
	ErrInvalidUpgradeHeader    = errors.New("invalid Upgrade header")
	ErrMissingConnectionHeader = errors.New("missing Connection header")
	ErrInvalidConnectionHeader = errors.New("invalid Connection header")
	ErrMissingVersionHeader    = errors.New("missing Sec-WebSocket-Version header")
	ErrInvalidVersionHeader    = errors.New("invalid Sec-WebSocket-Version header")
	ErrMissingSecKey           = errors.New("missing Sec-WebSocket-Key header")
	ErrInvalidSecKey           = errors.New("invalid Sec-WebSocket-Key header")
	ErrMissingAccept           = errors.New("missing Sec-WebSocket-Accept header")
	ErrAcceptMismatch          = errors.New("Sec-WebSocket-Accept does not match the request key")
	ErrBadStatus               = errors.New("unexpected response status, expected 101")
	ErrMalformedHandshake      = errors.New("malformed handshake")
	ErrHandshakeTooLarge       = errors.New("handshake headers too large")
	ErrHijackerNotSupported    = errors.New("connection doesnt support hijacking")
	ErrBadScheme               = errors.New("url scheme must be ws or wss")

	// conn
	ErrConnClosed          = errors.New("connection is closed")
	ErrEmptyPayload        = errors.New("cannot send empty payload")
	ErrMessageTypeMismatch = errors.New("unexpected message type")
	ErrReadTimeout         = errors.New("read timeout")
	ErrWriteTimeout        = errors.New("write timeout")
)

// MiddlewareErr lets an upgrade middleware choose the HTTP status and body
// returned to the client.
type MiddlewareErr struct {
	Code    int
	Message string
}

func NewMiddlewareErr(code int, message string) *MiddlewareErr {
	return &MiddlewareErr{Code: code, Message: message}
}

func (e *MiddlewareErr) Error() string {
	return e.Message
}

func AsMiddlewareErr(err error) (*MiddlewareErr, bool) {
	var mwErr *MiddlewareErr
	ok := errors.As(err, &mwErr)
	return mwErr, ok
}
