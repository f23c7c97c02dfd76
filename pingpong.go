package twist

import (
	"github.com/eapache/queue"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PingPong answers every inbound Ping with a Pong carrying the same
// application data and swallows inbound Pongs. Pongs leave in the order their
// pings arrived, and application sends wait until every pending pong has been
// handed to the upstream sink.
type PingPong struct {
	upstream Duplex
	// application data of pings not yet answered, []byte elements.
	pending *queue.Queue
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewPingPong(upstream Duplex) *PingPong {
	return &PingPong{
		upstream: upstream,
		pending:  queue.New(),
		logger:   zap.NewNop(),
	}
}

// WithLogger attaches a logger. A nil logger disables logging.
func (p *PingPong) WithLogger(logger *zap.Logger) *PingPong {
	if logger == nil {
		p.logger = zap.NewNop()
		return p
	}
	p.logger = logger.With(zap.String("proto", "pingpong"))
	return p
}

// WithPingLimit fails the stream with ErrPingFlood once inbound pings exceed
// limiter. A nil limiter means no limit.
func (p *PingPong) WithPingLimit(limiter *rate.Limiter) *PingPong {
	p.limiter = limiter
	return p
}

// PendingPongs returns how many pongs are still waiting to be sent.
func (p *PingPong) PendingPongs() int {
	return p.pending.Length()
}

func (p *PingPong) Poll() (*Message, error) {
	for {
		msg, err := p.upstream.Poll()
		if err != nil || msg == nil {
			return msg, err
		}

		switch msg.Opcode {
		case OpPong:
			if _, err := p.PollComplete(); err != nil {
				return nil, err
			}
		case OpPing:
			base := msg.Base()
			if base == nil {
				return nil, protocolErr(ErrMissingBaseFrame)
			}
			if p.limiter != nil && !p.limiter.Allow() {
				return nil, protocolErrWithCode(ClosePolicyViolation, ErrPingFlood)
			}
			p.pending.Add(base.ApplicationData)
			if _, err := p.PollComplete(); err != nil {
				return nil, err
			}
		default:
			return msg, nil
		}
	}
}

func (p *PingPong) StartSend(msg *Message) (bool, error) {
	if p.pending.Length() > 0 {
		p.logger.Warn("sink has pending pings", zap.Int("pending", p.pending.Length()))
		return false, nil
	}
	return p.upstream.StartSend(msg)
}

func (p *PingPong) PollComplete() (bool, error) {
	for p.pending.Length() > 0 {
		data, _ := p.pending.Peek().([]byte)
		ok, err := p.upstream.StartSend(PongMessage(data))
		if err != nil {
			return false, err
		}
		if !ok {
			break
		}
		p.pending.Remove()
		p.logger.Debug("pong message sent", zap.Int("size", len(data)))
	}

	done, err := p.upstream.PollComplete()
	if err != nil {
		return false, err
	}
	return done && p.pending.Length() == 0, nil
}
