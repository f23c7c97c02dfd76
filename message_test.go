package twist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageConstructors(t *testing.T) {
	tests := []struct {
		name   string
		msg    *Message
		opcode OpCode
	}{
		{"text", TextMessage([]byte("a")), OpText},
		{"binary", BinaryMessage([]byte{1}), OpBinary},
		{"ping", PingMessage(nil), OpPing},
		{"pong", PongMessage([]byte("x")), OpPong},
		{"close", CloseMessage(CloseNormalClosure, ""), OpClose},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.opcode, tt.msg.Opcode)
			assert.Equal(t, tt.opcode.IsControl(), tt.msg.IsControl())
			base := tt.msg.Base()
			if assert.NotNil(t, base) {
				assert.True(t, base.Fin)
				assert.Equal(t, tt.opcode, base.Opcode)
				assert.Equal(t, uint64(len(tt.msg.Data)), base.PayloadLength)
			}
		})
	}
}

func TestMessageEmptyData(t *testing.T) {
	msg := TextMessage([]byte{})
	assert.Nil(t, msg.Data)
	assert.Nil(t, msg.Base().ApplicationData)
}

func TestCloseMessage(t *testing.T) {
	msg := CloseMessage(CloseGoingAway, "restart")
	assert.Equal(t, []byte{0x03, 0xE9, 'r', 'e', 's', 't', 'a', 'r', 't'}, msg.Data)

	code, reason, ok := msg.CloseCode()
	assert.True(t, ok)
	assert.Equal(t, CloseGoingAway, code)
	assert.Equal(t, "restart", reason)

	empty := CloseMessage(0, "ignored")
	assert.Nil(t, empty.Data)
	_, _, ok = empty.CloseCode()
	assert.False(t, ok)

	_, _, ok = TextMessage([]byte("not a close")).CloseCode()
	assert.False(t, ok)
}

func TestValidateClosePayload(t *testing.T) {
	tests := []struct {
		name      string
		payload   []byte
		checkUTF8 bool
		wantErr   error
	}{
		{"empty", nil, true, nil},
		{"normal", []byte{0x03, 0xE8}, true, nil},
		{"private code", []byte{0x0F, 0xA0}, true, nil},
		{"single byte", []byte{0x03}, true, ErrInvalidClosePayload},
		{"no status received is local only", []byte{0x03, 0xED}, true, ErrInvalidCloseCode},
		{"below range", []byte{0x03, 0xE7}, true, ErrInvalidCloseCode},
		{"bad reason", []byte{0x03, 0xE8, 0xC3}, true, ErrInvalidUTF8},
		{"bad reason unchecked", []byte{0x03, 0xE8, 0xC3}, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateClosePayload(tt.payload, tt.checkUTF8)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
