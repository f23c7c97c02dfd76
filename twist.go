package twist

import (
	"bytes"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// accumulator holds a fragmented Text or Binary message until its final
// continuation frame arrives.
type accumulator struct {
	open   bool
	opcode OpCode
	buf    bytes.Buffer
}

func (a *accumulator) reset() {
	a.open = false
	a.opcode = OpContinuation
	a.buf.Reset()
}

// TwistCodec turns a byte stream into Messages and back. It wraps a
// FrameCodec and owns the fragmentation state of one connection.
type TwistCodec struct {
	frames     *FrameCodec
	acc        accumulator
	maxMessage int
	checkUTF8  bool
}

// NewTwistCodec returns a codec for role. opts may be nil; only
// MaxMessageSize and SkipUTF8Validation are read from it.
func NewTwistCodec(role Role, opts *Options) *TwistCodec {
	maxSize := opts.maxSize()
	return &TwistCodec{
		frames:     newLimitedFrameCodec(role, maxSize),
		maxMessage: maxSize,
		checkUTF8:  opts == nil || !opts.SkipUTF8Validation,
	}
}

func (t *TwistCodec) Role() Role {
	return t.frames.Role()
}

// Decode returns the next complete message in buf, or (nil, nil) when more
// bytes are needed. Frames that only extend an open fragmented message are
// consumed along the way.
func (t *TwistCodec) Decode(buf *bytes.Buffer) (*Message, error) {
	for {
		f, err := t.frames.Decode(buf)
		if err != nil || f == nil {
			return nil, err
		}

		msg, err := t.assemble(f)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
	}
}

func (t *TwistCodec) assemble(f *Frame) (*Message, error) {
	switch {
	case f.IsControl():
		// control frames may arrive in the middle of a fragmented message and
		// leave it open.
		if f.Opcode == OpClose {
			if err := validateClosePayload(f.ApplicationData, t.checkUTF8); err != nil {
				return nil, err
			}
		}
		return messageFromFrame(f), nil

	case f.Opcode == OpContinuation:
		if !t.acc.open {
			return nil, protocolErr(ErrUnexpectedContinuation)
		}
		if err := t.appendChunk(f.ApplicationData); err != nil {
			return nil, err
		}
		if !f.Fin {
			return nil, nil
		}
		return t.finish()

	default:
		if t.acc.open {
			return nil, protocolErr(ErrExpectedContinuation)
		}
		if f.Fin {
			if err := t.validateData(f.Opcode, f.ApplicationData); err != nil {
				return nil, err
			}
			return messageFromFrame(f), nil
		}
		t.acc.open = true
		t.acc.opcode = f.Opcode
		t.acc.buf.Reset()
		if err := t.appendChunk(f.ApplicationData); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func (t *TwistCodec) appendChunk(chunk []byte) error {
	if t.maxMessage > 0 && t.acc.buf.Len()+len(chunk) > t.maxMessage {
		t.acc.reset()
		return protocolErrWithCode(CloseMessageTooBig, ErrMessageTooLarge)
	}
	t.acc.buf.Write(chunk)
	return nil
}

func (t *TwistCodec) finish() (*Message, error) {
	op := t.acc.opcode
	var data []byte
	if t.acc.buf.Len() > 0 {
		data = bytes.Clone(t.acc.buf.Bytes())
	}
	t.acc.reset()

	if err := t.validateData(op, data); err != nil {
		return nil, err
	}
	return &Message{Opcode: op, Data: data, base: NewFrame(true, op, data)}, nil
}

func (t *TwistCodec) validateData(op OpCode, data []byte) error {
	if op == OpText && t.checkUTF8 && !utf8.Valid(data) {
		return protocolErrWithCode(CloseInvalidFramePayloadData, ErrInvalidUTF8)
	}
	return nil
}

// InProgress reports whether a fragmented message has been started and not
// yet finished.
func (t *TwistCodec) InProgress() bool {
	return t.acc.open
}

// Reset drops any partially assembled message.
func (t *TwistCodec) Reset() {
	t.acc.reset()
}

// Encode appends msg to buf as a single final frame.
func (t *TwistCodec) Encode(msg *Message, buf *bytes.Buffer) error {
	return t.EncodeFragments(msg, 1, buf)
}

// EncodeFragments appends msg to buf split into n frames of near-equal size.
// The first frame carries the message opcode, the rest are continuations and
// only the last one is final. Control messages can only be sent whole.
func (t *TwistCodec) EncodeFragments(msg *Message, n int, buf *bytes.Buffer) error {
	if msg.Opcode == OpContinuation || msg.Opcode.IsReserved() {
		return errors.Wrapf(ErrReservedOpcode, "cannot send %s message", msg.Opcode)
	}
	if n < 1 {
		return ErrInvalidFragmentCount
	}
	if n > 1 && msg.IsControl() {
		return protocolErr(ErrFragmentedControl)
	}

	mark := buf.Len()
	size, rem := len(msg.Data)/n, len(msg.Data)%n
	rest := msg.Data
	for i := 0; i < n; i++ {
		chunk := size
		if i < rem {
			chunk++
		}

		op := OpContinuation
		if i == 0 {
			op = msg.Opcode
		}
		if err := t.frames.Encode(NewFrame(i == n-1, op, rest[:chunk]), buf); err != nil {
			buf.Truncate(mark)
			return err
		}
		rest = rest[chunk:]
	}
	return nil
}
