package twist

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Role selects the masking direction of a codec. Clients mask everything they
// send and refuse masked input; servers do the opposite.
type Role uint8

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// FrameCodec converts between a byte stream and Frames. It holds no per-frame
// state, so a failed or incomplete Decode can simply be retried once more
// bytes are buffered. The role is fixed at construction.
type FrameCodec struct {
	role Role
	// 0 means the only bound is what fits in an int.
	maxPayload uint64
}

func NewFrameCodec(role Role) *FrameCodec {
	return &FrameCodec{role: role}
}

func newLimitedFrameCodec(role Role, maxPayload int) *FrameCodec {
	c := NewFrameCodec(role)
	if maxPayload > 0 {
		c.maxPayload = uint64(maxPayload)
	}
	return c
}

// Client reports whether the codec was built for the client role.
func (c *FrameCodec) Client() bool {
	return c.role == RoleClient
}

func (c *FrameCodec) Role() Role {
	return c.role
}

func (c *FrameCodec) checkMasking(masked bool) error {
	if c.role == RoleClient && masked {
		return protocolErr(ErrMaskedFrame)
	}
	if c.role == RoleServer && !masked {
		return protocolErr(ErrUnmaskedFrame)
	}
	return nil
}

// Decode reads one frame from the front of buf.
//
// It returns (nil, nil) without consuming anything when buf does not yet hold
// the whole frame. Header violations are reported as soon as the offending
// octets are buffered, without waiting for the payload. On success exactly the
// frame's bytes are consumed and anything after them stays in buf.
func (c *FrameCodec) Decode(buf *bytes.Buffer) (*Frame, error) {
	raw := buf.Bytes()
	if len(raw) < 2 {
		return nil, nil
	}

	f := &Frame{
		Fin:    raw[0]&0b10000000 != 0,
		Rsv1:   raw[0]&0b01000000 != 0,
		Rsv2:   raw[0]&0b00100000 != 0,
		Rsv3:   raw[0]&0b00010000 != 0,
		Opcode: OpCode(raw[0] & 0b00001111),
		Masked: raw[1]&0b10000000 != 0,
	}

	if f.hasRsv() {
		return nil, protocolErr(ErrReservedBits)
	}
	if f.Opcode.IsReserved() {
		return nil, protocolErr(ErrReservedOpcode)
	}
	if err := c.checkMasking(f.Masked); err != nil {
		return nil, err
	}

	length := uint64(raw[1] & 0b01111111)
	// 126 and 127 already exceed the control limit.
	if err := validateControl(f.Opcode, f.Fin, length); err != nil {
		return nil, err
	}

	offset := 2
	switch length {
	case 126:
		if len(raw) < offset+2 {
			return nil, nil
		}
		length = uint64(binary.BigEndian.Uint16(raw[offset:]))
		offset += 2
	case 127:
		if len(raw) < offset+8 {
			return nil, nil
		}
		length = binary.BigEndian.Uint64(raw[offset:])
		if length>>63 != 0 {
			return nil, protocolErr(ErrInvalidPayloadLength)
		}
		offset += 8
	}

	if length > uint64(math.MaxInt-MaxFrameHeaderSize) || (c.maxPayload > 0 && length > c.maxPayload) {
		return nil, protocolErrWithCode(CloseMessageTooBig, ErrFrameTooLarge)
	}

	if f.Masked {
		if len(raw) < offset+4 {
			return nil, nil
		}
		f.Mask = binary.BigEndian.Uint32(raw[offset:])
		offset += 4
	}

	total := offset + int(length)
	if len(raw) < total {
		return nil, nil
	}

	f.PayloadLength = length
	if length > 0 {
		data := make([]byte, length)
		copy(data, raw[offset:total])
		if f.Masked {
			maskBytes(f.MaskKey(), data)
		}
		f.ApplicationData = data
	}

	buf.Next(total)
	return f, nil
}

// Encode appends the wire form of f to buf using the shortest length encoding.
//
// A client always masks, with f.Mask when f.Masked is set and a fresh random
// key otherwise. A server never masks. f itself is not modified.
func (c *FrameCodec) Encode(f *Frame, buf *bytes.Buffer) error {
	if f.hasRsv() {
		return protocolErr(ErrReservedBits)
	}
	if f.Opcode.IsReserved() {
		return protocolErr(ErrReservedOpcode)
	}

	n := uint64(len(f.ExtensionData) + len(f.ApplicationData))
	if n != f.PayloadLength {
		return errors.Wrapf(ErrPayloadLengthMismatch, "declared %d, have %d", f.PayloadLength, n)
	}
	if err := validateControl(f.Opcode, f.Fin, n); err != nil {
		return err
	}

	var hdr [MaxFrameHeaderSize]byte
	hdr[0] = byte(f.Opcode)
	if f.Fin {
		hdr[0] |= 0b10000000
	}

	offset := 2
	switch {
	case n <= MaxControlFramePayload:
		hdr[1] = byte(n)
	case n <= math.MaxUint16:
		hdr[1] = 126
		binary.BigEndian.PutUint16(hdr[offset:], uint16(n))
		offset += 2
	default:
		hdr[1] = 127
		binary.BigEndian.PutUint64(hdr[offset:], n)
		offset += 8
	}

	masked := c.role == RoleClient
	var key [4]byte
	if masked {
		if f.Masked {
			key = f.MaskKey()
		} else if _, err := rand.Read(key[:]); err != nil {
			return errors.Wrap(err, "generate masking key")
		}
		hdr[1] |= 0b10000000
		copy(hdr[offset:], key[:])
		offset += 4
	}

	buf.Grow(offset + int(n))
	buf.Write(hdr[:offset])
	start := buf.Len()
	buf.Write(f.ExtensionData)
	buf.Write(f.ApplicationData)
	if masked {
		maskBytes(key, buf.Bytes()[start:])
	}

	return nil
}
