package twist

// Stream produces inbound messages.
//
// Poll returns the next message, (nil, nil) when none can be produced yet, or
// an error. io.EOF marks a clean end of stream; any other error is fatal.
type Stream interface {
	Poll() (*Message, error)
}

// Sink consumes outbound messages.
//
// StartSend offers msg and returns false when the sink cannot take it yet; the
// caller keeps msg and offers it again after driving PollComplete.
// PollComplete pushes buffered output towards the transport and reports
// whether everything has been flushed.
type Sink interface {
	StartSend(msg *Message) (bool, error)
	PollComplete() (bool, error)
}

// Duplex is the capability pair every middleware layer implements and wraps.
type Duplex interface {
	Stream
	Sink
}

// Layer wraps an upstream Duplex with new behaviour.
type Layer func(upstream Duplex) Duplex

// Compose stacks layers over base. The first layer wraps base directly, the
// last one is what the application talks to.
func Compose(base Duplex, layers ...Layer) Duplex {
	d := base
	for _, layer := range layers {
		if layer != nil {
			d = layer(d)
		}
	}
	return d
}
