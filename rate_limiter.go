package twist

import (
	"golang.org/x/time/rate"
)

// RateLimiter bounds how many Text and Binary messages each connection may
// receive per second. Control messages are not counted.
type RateLimiter struct {
	// Number of message allowed per second
	mps int
	// Number of bursts allowed
	burst int
	// Called when the peer exceeds the limit. Returning nil drops the message
	// and keeps the connection; a non-nil error fails the stream with it.
	// If nil, the stream fails with ErrRateLimited (close code 1008).
	OnRateLimitHit func(msg *Message) error
}

func NewRateLimiter(mps, burst int) *RateLimiter {
	return &RateLimiter{
		mps:   mps,
		burst: burst,
	}
}

// Layer returns middleware with its own limiter, so every stack built from
// it is limited independently.
func (rl *RateLimiter) Layer() Layer {
	return func(upstream Duplex) Duplex {
		return &limited{
			upstream: upstream,
			limiter:  rate.NewLimiter(rate.Limit(rl.mps), rl.burst),
			onHit:    rl.OnRateLimitHit,
		}
	}
}

type limited struct {
	upstream Duplex
	limiter  *rate.Limiter
	onHit    func(msg *Message) error
}

func (l *limited) Poll() (*Message, error) {
	for {
		msg, err := l.upstream.Poll()
		if err != nil || msg == nil || msg.IsControl() || l.limiter.Allow() {
			return msg, err
		}

		if l.onHit == nil {
			return nil, protocolErrWithCode(ClosePolicyViolation, ErrRateLimited)
		}
		if err := l.onHit(msg); err != nil {
			return nil, err
		}
	}
}

func (l *limited) StartSend(msg *Message) (bool, error) {
	return l.upstream.StartSend(msg)
}

func (l *limited) PollComplete() (bool, error) {
	return l.upstream.PollComplete()
}
