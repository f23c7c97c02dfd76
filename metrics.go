package twist

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "twist"

	directionIn  = "in"
	directionOut = "out"
)

// Metrics counts messages and payload bytes flowing through a stack. One
// Metrics value is meant to be shared by every connection of a process.
type Metrics struct {
	messages *prometheus.CounterVec
	bytes    *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_total",
			Help:      "Number of WebSocket messages by direction and opcode.",
		}, []string{"direction", "opcode"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "payload_bytes_total",
			Help:      "Application data bytes by direction and opcode.",
		}, []string{"direction", "opcode"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.messages, m.bytes} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "register twist metrics")
		}
	}
	return m, nil
}

// Layer returns middleware recording every message that passes through it.
func (m *Metrics) Layer() Layer {
	return func(upstream Duplex) Duplex {
		return &metered{upstream: upstream, m: m}
	}
}

func (m *Metrics) observe(direction string, msg *Message) {
	op := msg.Opcode.String()
	m.messages.WithLabelValues(direction, op).Inc()
	m.bytes.WithLabelValues(direction, op).Add(float64(len(msg.Data)))
}

type metered struct {
	upstream Duplex
	m        *Metrics
}

func (d *metered) Poll() (*Message, error) {
	msg, err := d.upstream.Poll()
	if msg != nil {
		d.m.observe(directionIn, msg)
	}
	return msg, err
}

func (d *metered) StartSend(msg *Message) (bool, error) {
	ok, err := d.upstream.StartSend(msg)
	if ok && err == nil {
		d.m.observe(directionOut, msg)
	}
	return ok, err
}

func (d *metered) PollComplete() (bool, error) {
	return d.upstream.PollComplete()
}
