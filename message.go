package twist

import (
	"encoding/binary"
	"unicode/utf8"
)

// Message is a complete WebSocket message: a Text or Binary message assembled
// from one or more frames, or a single Ping, Pong or Close.
type Message struct {
	Opcode OpCode
	// Data is nil when the message carried no application data.
	Data []byte

	base *Frame
}

func newMessage(op OpCode, data []byte) *Message {
	if len(data) == 0 {
		data = nil
	}
	return &Message{
		Opcode: op,
		Data:   data,
		base:   NewFrame(true, op, data),
	}
}

func messageFromFrame(f *Frame) *Message {
	return &Message{Opcode: f.Opcode, Data: f.ApplicationData, base: f}
}

func TextMessage(data []byte) *Message {
	return newMessage(OpText, data)
}

func BinaryMessage(data []byte) *Message {
	return newMessage(OpBinary, data)
}

func PingMessage(data []byte) *Message {
	return newMessage(OpPing, data)
}

func PongMessage(data []byte) *Message {
	return newMessage(OpPong, data)
}

// CloseMessage builds a close message. A zero code produces an empty body.
func CloseMessage(code uint16, reason string) *Message {
	if code == 0 {
		return newMessage(OpClose, nil)
	}
	body := make([]byte, 2, 2+len(reason))
	binary.BigEndian.PutUint16(body, code)
	body = append(body, reason...)
	return newMessage(OpClose, body)
}

// Base returns the frame the message was decoded from. For an assembled
// fragment sequence it is a synthesized final frame holding the whole
// message. Messages built as struct literals have none.
func (m *Message) Base() *Frame {
	return m.base
}

func (m *Message) IsText() bool {
	return m.Opcode == OpText
}

func (m *Message) IsBinary() bool {
	return m.Opcode == OpBinary
}

func (m *Message) IsPing() bool {
	return m.Opcode == OpPing
}

func (m *Message) IsPong() bool {
	return m.Opcode == OpPong
}

func (m *Message) IsClose() bool {
	return m.Opcode == OpClose
}

func (m *Message) IsControl() bool {
	return m.Opcode.IsControl()
}

// CloseCode returns the status code and reason of a close message. ok is false
// for non-close messages and for close messages without a body.
func (m *Message) CloseCode() (code uint16, reason string, ok bool) {
	if m.Opcode != OpClose || len(m.Data) < 2 {
		return 0, "", false
	}
	return binary.BigEndian.Uint16(m.Data[:2]), string(m.Data[2:]), true
}

// validateClosePayload checks a received close body: empty, or a valid code
// followed by an optional UTF-8 reason.
func validateClosePayload(payload []byte, checkUTF8 bool) error {
	switch {
	case len(payload) == 0:
		return nil
	case len(payload) == 1:
		return protocolErr(ErrInvalidClosePayload)
	}

	if !IsValidCloseCode(binary.BigEndian.Uint16(payload[:2])) {
		return protocolErr(ErrInvalidCloseCode)
	}
	if checkUTF8 && !utf8.Valid(payload[2:]) {
		return protocolErrWithCode(CloseInvalidFramePayloadData, ErrInvalidUTF8)
	}
	return nil
}
