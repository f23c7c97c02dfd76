package twist

import (
	"encoding/binary"
	"strconv"
)

const (
	CloseNormalClosure           uint16 = 1000
	CloseGoingAway               uint16 = 1001
	CloseProtocolError           uint16 = 1002
	CloseUnsupportedData         uint16 = 1003
	CloseNoStatusReceived        uint16 = 1005
	CloseAbnormalClosure         uint16 = 1006
	CloseInvalidFramePayloadData uint16 = 1007
	ClosePolicyViolation         uint16 = 1008
	CloseMessageTooBig           uint16 = 1009
	CloseMandatoryExtension      uint16 = 1010
	CloseInternalServerErr       uint16 = 1011
	CloseServiceRestart          uint16 = 1012
	CloseTryAgainLater           uint16 = 1013
	CloseBadGateway              uint16 = 1014
)

// IsValidCloseCode reports whether code may appear on the wire in a close
// frame. 1004-1006 and 1015 are reserved for local use only.
func IsValidCloseCode(code uint16) bool {
	switch {
	case code >= 1000 && code <= 1003:
		return true
	case code >= 1007 && code <= 1014:
		return true
	case code >= 3000 && code <= 4999:
		return true
	default:
		return false
	}
}

// OpCode is the low nibble of the first frame octet.
type OpCode uint8

const (
	OpContinuation OpCode = 0x0
	OpText         OpCode = 0x1
	OpBinary       OpCode = 0x2
	// 0x3 - 0x7 are reserved for further non-control frames.
	OpClose OpCode = 0x8
	OpPing  OpCode = 0x9
	OpPong  OpCode = 0xA
	// 0xB - 0xF are reserved for further control frames.
)

const (
	MaxControlFramePayload = 125
	// MaxFrameHeaderSize is 2 fixed octets, 8 octets of extended length and a 4 octet mask.
	MaxFrameHeaderSize = 14
)

func (op OpCode) IsControl() bool {
	return op&0x8 != 0
}

func (op OpCode) IsData() bool {
	return op == OpText || op == OpBinary
}

// IsReserved reports opcodes RFC 6455 leaves undefined.
func (op OpCode) IsReserved() bool {
	switch op {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return false
	default:
		return true
	}
}

func (op OpCode) String() string {
	switch op {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return "reserved(" + strconv.Itoa(int(op)) + ")"
	}
}

// Frame is one wire-level WebSocket frame. ApplicationData always holds the
// unmasked payload; Mask keeps the key the frame arrived with (or should be
// sent with, for a client).
type Frame struct {
	Fin           bool
	Rsv1          bool
	Rsv2          bool
	Rsv3          bool
	Opcode        OpCode
	Masked        bool
	Mask          uint32
	PayloadLength uint64
	// ExtensionData is reserved for negotiated extensions. No extension is
	// implemented so decoded frames never carry it.
	ExtensionData   []byte
	ApplicationData []byte
}

// NewFrame returns an unmasked frame carrying data. A zero-length data leaves
// ApplicationData absent.
func NewFrame(fin bool, op OpCode, data []byte) *Frame {
	f := &Frame{
		Fin:           fin,
		Opcode:        op,
		PayloadLength: uint64(len(data)),
	}
	if len(data) > 0 {
		f.ApplicationData = data
	}
	return f
}

func (f *Frame) IsControl() bool {
	return f.Opcode.IsControl()
}

func (f *Frame) hasRsv() bool {
	return f.Rsv1 || f.Rsv2 || f.Rsv3
}

// MaskKey returns Mask as the 4 key octets in wire order.
func (f *Frame) MaskKey() [4]byte {
	var key [4]byte
	binary.BigEndian.PutUint32(key[:], f.Mask)
	return key
}

// validateControl checks the control frame invariants that can be judged from
// the header alone.
func validateControl(op OpCode, fin bool, length uint64) error {
	if !op.IsControl() {
		return nil
	}
	if length > MaxControlFramePayload {
		return protocolErr(ErrControlTooLarge)
	}
	if !fin {
		return protocolErr(ErrFragmentedControl)
	}
	return nil
}
