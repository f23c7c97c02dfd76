package twist

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// Framed is the bottom of every middleware stack: it binds a TwistCodec to an
// input buffer filled by the transport and an output buffer drained into w.
//
// Framed never reads from the transport itself. Whoever owns the connection
// appends received bytes with Feed and reports end of input with CloseRead.
type Framed struct {
	codec *TwistCodec
	w     io.Writer

	in  bytes.Buffer
	out bytes.Buffer

	eof bool
	// sends report not-ready once this many encoded bytes are pending.
	highWater int
	// 0 disables outbound fragmentation.
	fragmentSize int
}

// NewFramed returns a Framed for role writing to w. opts may be nil.
func NewFramed(role Role, w io.Writer, opts *Options) *Framed {
	f := &Framed{
		codec:     NewTwistCodec(role, opts),
		w:         w,
		highWater: DefaultWriteBufferSize,
	}
	if opts != nil {
		if opts.WriteBufferSize > 0 {
			f.highWater = opts.WriteBufferSize
		}
		f.fragmentSize = opts.WriteFragmentSize
	}
	return f
}

// Feed appends bytes received from the transport.
func (f *Framed) Feed(p []byte) {
	f.in.Write(p)
}

// CloseRead records that the transport will deliver no more bytes.
func (f *Framed) CloseRead() {
	f.eof = true
}

// Buffered returns the number of received bytes not yet decoded.
func (f *Framed) Buffered() int {
	return f.in.Len()
}

// Pending returns the number of encoded bytes not yet written to the transport.
func (f *Framed) Pending() int {
	return f.out.Len()
}

func (f *Framed) Poll() (*Message, error) {
	msg, err := f.codec.Decode(&f.in)
	if err != nil || msg != nil {
		return msg, err
	}
	if f.eof {
		if f.in.Len() > 0 || f.codec.InProgress() {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, io.EOF
	}
	return nil, nil
}

func (f *Framed) StartSend(msg *Message) (bool, error) {
	if f.out.Len() >= f.highWater {
		return false, nil
	}
	return true, f.codec.EncodeFragments(msg, f.fragments(msg), &f.out)
}

func (f *Framed) fragments(msg *Message) int {
	if f.fragmentSize <= 0 || msg.IsControl() || len(msg.Data) <= f.fragmentSize {
		return 1
	}
	return (len(msg.Data) + f.fragmentSize - 1) / f.fragmentSize
}

// PollComplete writes every pending byte to the transport writer. A nil
// writer leaves the bytes in place for Drain.
func (f *Framed) PollComplete() (bool, error) {
	if f.w == nil {
		return f.out.Len() == 0, nil
	}
	if f.out.Len() == 0 {
		return true, nil
	}
	if _, err := f.out.WriteTo(f.w); err != nil {
		return false, errors.Wrap(err, "write transport")
	}
	return true, nil
}

// Drain moves pending output into w, for transports that do their own writing.
func (f *Framed) Drain(w io.Writer) (int64, error) {
	return f.out.WriteTo(w)
}
