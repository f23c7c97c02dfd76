package twist

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/gobwas/ws"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payload(n int) []byte {
	if n == 0 {
		return nil
	}
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i % 251)
	}
	return p
}

func TestFrameCodecRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		opcode OpCode
		fin    bool
		size   int
	}{
		{"empty text", OpText, true, 0},
		{"text at 7 bit limit", OpText, true, 125},
		{"binary needing 16 bit length", OpBinary, true, 126},
		{"binary needing 64 bit length", OpBinary, true, 65536},
		{"non-final text", OpText, false, 300},
		{"continuation", OpContinuation, true, 10},
		{"ping", OpPing, true, 125},
		{"close", OpClose, true, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := payload(tt.size)

			t.Run("client to server", func(t *testing.T) {
				want := NewFrame(tt.fin, tt.opcode, data)
				want.Masked = true
				want.Mask = 0xa1b2c3d4

				var buf bytes.Buffer
				require.NoError(t, NewFrameCodec(RoleClient).Encode(want, &buf))
				got, err := NewFrameCodec(RoleServer).Decode(&buf)
				require.NoError(t, err)
				require.NotNil(t, got)
				if diff := cmp.Diff(want, got); diff != "" {
					t.Errorf("decoded frame mismatch (-want +got):\n%s", diff)
				}
				assert.Zero(t, buf.Len())
			})

			t.Run("server to client", func(t *testing.T) {
				want := NewFrame(tt.fin, tt.opcode, data)

				var buf bytes.Buffer
				require.NoError(t, NewFrameCodec(RoleServer).Encode(want, &buf))
				got, err := NewFrameCodec(RoleClient).Decode(&buf)
				require.NoError(t, err)
				require.NotNil(t, got)
				if diff := cmp.Diff(want, got); diff != "" {
					t.Errorf("decoded frame mismatch (-want +got):\n%s", diff)
				}
			})
		})
	}
}

func TestFrameCodecPongBytes(t *testing.T) {
	wire := []byte{0x8A, 0x00}

	buf := bytes.NewBuffer(bytes.Clone(wire))
	f, err := NewFrameCodec(RoleClient).Decode(buf)
	require.NoError(t, err)
	require.NotNil(t, f)

	assert.True(t, f.Fin)
	assert.Equal(t, OpPong, f.Opcode)
	assert.False(t, f.Masked)
	assert.Zero(t, f.PayloadLength)
	assert.Nil(t, f.ApplicationData)

	var out bytes.Buffer
	require.NoError(t, NewFrameCodec(RoleServer).Encode(f, &out))
	assert.Equal(t, wire, out.Bytes())
}

func TestFrameCodecHeaderSize(t *testing.T) {
	tests := []struct {
		size       int
		headerSize int
		lengthByte byte
	}{
		{0, 2, 0},
		{125, 2, 125},
		{126, 4, 126},
		{65535, 4, 126},
		{65536, 10, 127},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("payload_%d", tt.size), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, NewFrameCodec(RoleServer).Encode(NewFrame(true, OpBinary, payload(tt.size)), &buf))
			assert.Equal(t, tt.headerSize+tt.size, buf.Len())
			assert.Equal(t, tt.lengthByte, buf.Bytes()[1])
		})
	}
}

func TestFrameCodecDecodeErrors(t *testing.T) {
	tests := []struct {
		name     string
		role     Role
		input    []byte
		wantErr  error
		wantCode uint16
	}{
		{
			name:     "reserved bit without extension",
			role:     RoleClient,
			input:    []byte{0xC1, 0x00},
			wantErr:  ErrReservedBits,
			wantCode: CloseProtocolError,
		},
		{
			name:     "reserved data opcode",
			role:     RoleClient,
			input:    []byte{0x83, 0x00},
			wantErr:  ErrReservedOpcode,
			wantCode: CloseProtocolError,
		},
		{
			name:     "reserved control opcode",
			role:     RoleClient,
			input:    []byte{0x8B, 0x00},
			wantErr:  ErrReservedOpcode,
			wantCode: CloseProtocolError,
		},
		{
			name:     "server receives unmasked frame",
			role:     RoleServer,
			input:    []byte{0x81, 0x00},
			wantErr:  ErrUnmaskedFrame,
			wantCode: CloseProtocolError,
		},
		{
			name:     "client receives masked frame",
			role:     RoleClient,
			input:    []byte{0x81, 0x80, 0, 0, 0, 0},
			wantErr:  ErrMaskedFrame,
			wantCode: CloseProtocolError,
		},
		{
			name:     "final control frame with 16 bit length",
			role:     RoleClient,
			input:    []byte{0x89, 0x7E},
			wantErr:  ErrControlTooLarge,
			wantCode: CloseProtocolError,
		},
		{
			name:     "non-final control frame with 16 bit length",
			role:     RoleClient,
			input:    []byte{0x09, 0x7E},
			wantErr:  ErrControlTooLarge,
			wantCode: CloseProtocolError,
		},
		{
			name:     "non-final control frame",
			role:     RoleClient,
			input:    []byte{0x08, 0x00},
			wantErr:  ErrFragmentedControl,
			wantCode: CloseProtocolError,
		},
		{
			name:     "64 bit length with most significant bit set",
			role:     RoleClient,
			input:    []byte{0x82, 0x7F, 0x80, 0, 0, 0, 0, 0, 0, 0},
			wantErr:  ErrInvalidPayloadLength,
			wantCode: CloseProtocolError,
		},
		{
			name:     "length beyond addressable memory",
			role:     RoleClient,
			input:    []byte{0x82, 0x7F, 0x7F, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
			wantErr:  ErrFrameTooLarge,
			wantCode: CloseMessageTooBig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := bytes.NewBuffer(tt.input)
			f, err := NewFrameCodec(tt.role).Decode(buf)
			assert.Nil(t, f)
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsProtocolErr(err))
			assert.Equal(t, tt.wantCode, CloseCodeFor(err))
		})
	}
}

func TestFrameCodecPayloadLimit(t *testing.T) {
	codec := newLimitedFrameCodec(RoleClient, 10)

	var buf bytes.Buffer
	require.NoError(t, NewFrameCodec(RoleServer).Encode(NewFrame(true, OpBinary, payload(10)), &buf))
	f, err := codec.Decode(&buf)
	require.NoError(t, err)
	assert.Len(t, f.ApplicationData, 10)

	// only the header is needed to refuse the frame.
	buf.Reset()
	buf.Write([]byte{0x82, 11})
	_, err = codec.Decode(&buf)
	require.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Equal(t, CloseMessageTooBig, CloseCodeFor(err))
}

func TestFrameCodecIncomplete(t *testing.T) {
	sizes := []int{0, 5, 126, 70000}

	for _, size := range sizes {
		t.Run(fmt.Sprintf("payload_%d", size), func(t *testing.T) {
			f := NewFrame(true, OpBinary, payload(size))
			f.Masked = true
			f.Mask = 0x01020304

			var wire bytes.Buffer
			require.NoError(t, NewFrameCodec(RoleClient).Encode(f, &wire))
			full := wire.Bytes()

			codec := NewFrameCodec(RoleServer)
			for _, cut := range []int{0, 1, 2, 3, 5, 9, 13, len(full) - 1} {
				if cut < 0 || cut >= len(full) {
					continue
				}
				buf := bytes.NewBuffer(bytes.Clone(full[:cut]))
				got, err := codec.Decode(buf)
				require.NoError(t, err, "cut at %d", cut)
				require.Nil(t, got, "cut at %d", cut)
				require.Equal(t, cut, buf.Len(), "buffer must be left untouched")
			}
		})
	}
}

func TestFrameCodecConsumesOneFrame(t *testing.T) {
	var buf bytes.Buffer
	server := NewFrameCodec(RoleServer)
	require.NoError(t, server.Encode(NewFrame(true, OpText, []byte("first")), &buf))
	require.NoError(t, server.Encode(NewFrame(true, OpText, []byte("second")), &buf))
	buf.WriteByte(0x81)

	client := NewFrameCodec(RoleClient)
	f, err := client.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), f.ApplicationData)

	f, err = client.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), f.ApplicationData)

	f, err = client.Decode(&buf)
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.Equal(t, 1, buf.Len())
}

func TestFrameCodecEncodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		frame   *Frame
		wantErr error
	}{
		{
			name:    "reserved bit",
			frame:   &Frame{Fin: true, Rsv2: true, Opcode: OpText},
			wantErr: ErrReservedBits,
		},
		{
			name:    "reserved opcode",
			frame:   NewFrame(true, 0x4, nil),
			wantErr: ErrReservedOpcode,
		},
		{
			name:    "oversized ping",
			frame:   NewFrame(true, OpPing, payload(126)),
			wantErr: ErrControlTooLarge,
		},
		{
			name:    "non-final close",
			frame:   NewFrame(false, OpClose, nil),
			wantErr: ErrFragmentedControl,
		},
		{
			name:    "declared length differs from data",
			frame:   &Frame{Fin: true, Opcode: OpText, PayloadLength: 3, ApplicationData: []byte("hello")},
			wantErr: ErrPayloadLengthMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := NewFrameCodec(RoleServer).Encode(tt.frame, &buf)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, buf.Len())
		})
	}
}

func TestFrameCodecMasking(t *testing.T) {
	data := []byte("Hello")

	t.Run("client masks with a random key", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewFrameCodec(RoleClient).Encode(NewFrame(true, OpText, data), &buf))
		wire := buf.Bytes()
		assert.Equal(t, byte(0x80|5), wire[1])
		assert.Len(t, wire, 2+4+5)

		f, err := NewFrameCodec(RoleServer).Decode(&buf)
		require.NoError(t, err)
		assert.True(t, f.Masked)
		assert.Equal(t, data, f.ApplicationData)
	})

	t.Run("client reuses the frame key", func(t *testing.T) {
		f := NewFrame(true, OpText, data)
		f.Masked = true
		f.Mask = 0x37fa213d

		var buf bytes.Buffer
		require.NoError(t, NewFrameCodec(RoleClient).Encode(f, &buf))
		// RFC 6455 section 5.7 example.
		assert.Equal(t, []byte{0x81, 0x85, 0x37, 0xfa, 0x21, 0x3d, 0x7f, 0x9f, 0x4d, 0x51, 0x58}, buf.Bytes())
		assert.Equal(t, data, f.ApplicationData, "encode must not mask the caller's data")
	})

	t.Run("server strips the mask", func(t *testing.T) {
		f := NewFrame(true, OpText, data)
		f.Masked = true
		f.Mask = 0x37fa213d

		var buf bytes.Buffer
		require.NoError(t, NewFrameCodec(RoleServer).Encode(f, &buf))
		assert.Equal(t, []byte{0x81, 0x05, 'H', 'e', 'l', 'l', 'o'}, buf.Bytes())
	})
}

func TestFrameCodecGobwasInterop(t *testing.T) {
	sizes := []int{0, 1, 125, 126, 4096, 65536}

	for _, size := range sizes {
		t.Run(fmt.Sprintf("payload_%d", size), func(t *testing.T) {
			data := payload(size)

			t.Run("decode gobwas client frame", func(t *testing.T) {
				var buf bytes.Buffer
				frame := ws.MaskFrameWith(ws.NewFrame(ws.OpBinary, true, data), [4]byte{1, 2, 3, 4})
				require.NoError(t, ws.WriteFrame(&buf, frame))

				f, err := NewFrameCodec(RoleServer).Decode(&buf)
				require.NoError(t, err)
				require.NotNil(t, f)
				assert.Equal(t, OpBinary, f.Opcode)
				assert.Equal(t, uint32(0x01020304), f.Mask)
				assert.Equal(t, data, f.ApplicationData)
			})

			t.Run("gobwas reads server frame", func(t *testing.T) {
				var buf bytes.Buffer
				require.NoError(t, NewFrameCodec(RoleServer).Encode(NewFrame(false, OpText, data), &buf))

				frame, err := ws.ReadFrame(&buf)
				require.NoError(t, err)
				assert.False(t, frame.Header.Fin)
				assert.Equal(t, ws.OpText, frame.Header.OpCode)
				assert.False(t, frame.Header.Masked)
				assert.Equal(t, int64(size), frame.Header.Length)
				if size > 0 {
					assert.Equal(t, data, frame.Payload)
				}
			})

			t.Run("gobwas reads client frame", func(t *testing.T) {
				var buf bytes.Buffer
				require.NoError(t, NewFrameCodec(RoleClient).Encode(NewFrame(true, OpBinary, data), &buf))

				frame, err := ws.ReadFrame(&buf)
				require.NoError(t, err)
				require.True(t, frame.Header.Masked)
				ws.Cipher(frame.Payload, frame.Header.Mask, 0)
				if size > 0 {
					assert.Equal(t, data, frame.Payload)
				}
			})
		})
	}
}
