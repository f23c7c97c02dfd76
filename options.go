package twist

import (
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultWriteWait = time.Second * 5
	defaultReadWait  = time.Minute

	DefaultMaxMessageSize  = 1 << 20 // 1MB
	DefaultReadBufferSize  = 4096
	DefaultWriteBufferSize = 4096
)

type Options struct {
	// If nil, nothing is logged.
	Logger *zap.Logger

	// Ran when a connection finishes its handshake.
	OnConnect func(conn *Conn)

	// If not set it will default to 5 seconds.
	WriteWait time.Duration
	// Applied to every blocking read unless the context carries an earlier
	// deadline. If not set it will default to 60 seconds.
	ReadWait time.Duration

	// This is the max size of a single frame payload and of an assembled
	// message. If not set it will default to 1MB.
	// -1 means there is no max size.
	MaxMessageSize int
	// Size of the transport read chunk. If not set it will default to 4kb.
	ReadBufferSize int
	// Number of encoded bytes that may wait for the transport before
	// sends report not-ready. If not set it will default to 4kb.
	WriteBufferSize int
	// Outgoing Text/Binary messages larger than this are split into
	// fragments of at most this many bytes. 0 disables fragmentation.
	WriteFragmentSize int

	// Text payloads and close reasons are checked for valid UTF-8 unless set.
	SkipUTF8Validation bool

	// Inbound pings per second tolerated before the connection fails with
	// ErrPingFlood. 0 means no limit.
	PingRate rate.Limit
	// Ping burst size, defaults to 1 when PingRate is set.
	PingBurst int

	// Optional prometheus instrumentation placed directly above the codec.
	Metrics *Metrics
	// Extra middleware stacked above the keepalive layer, first entry innermost.
	Layers []Layer
}

func (opt *Options) WithDefault() {
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.WriteWait == 0 {
		opt.WriteWait = defaultWriteWait
	}
	if opt.ReadWait == 0 {
		opt.ReadWait = defaultReadWait
	}
	if opt.MaxMessageSize == 0 {
		opt.MaxMessageSize = DefaultMaxMessageSize
	}
	if opt.ReadBufferSize <= 0 {
		opt.ReadBufferSize = DefaultReadBufferSize
	}
	if opt.WriteBufferSize <= 0 {
		opt.WriteBufferSize = DefaultWriteBufferSize
	}
	if opt.WriteFragmentSize < 0 {
		opt.WriteFragmentSize = 0
	}
	if opt.PingRate > 0 && opt.PingBurst <= 0 {
		opt.PingBurst = 1
	}
}

// maxSize returns the effective frame/message limit, 0 meaning unlimited.
func (opt *Options) maxSize() int {
	switch {
	case opt == nil || opt.MaxMessageSize == 0:
		return DefaultMaxMessageSize
	case opt.MaxMessageSize < 0:
		return 0
	default:
		return opt.MaxMessageSize
	}
}

func (opt *Options) pingLimiter() *rate.Limiter {
	if opt.PingRate <= 0 {
		return nil
	}
	return rate.NewLimiter(opt.PingRate, opt.PingBurst)
}

// stack builds the per-connection middleware pipeline over framed.
func (opt *Options) stack(framed *Framed, remote net.Addr) Duplex {
	layers := make([]Layer, 0, len(opt.Layers)+2)
	if opt.Metrics != nil {
		layers = append(layers, opt.Metrics.Layer())
	}

	logger := opt.Logger
	if remote != nil {
		logger = logger.With(zap.Stringer("remote", remote))
	}
	limiter := opt.pingLimiter()
	layers = append(layers, func(upstream Duplex) Duplex {
		return NewPingPong(upstream).WithLogger(logger).WithPingLimit(limiter)
	})
	layers = append(layers, opt.Layers...)

	return Compose(framed, layers...)
}
