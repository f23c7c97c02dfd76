package twist

import (
	"bytes"
	"strconv"

	"github.com/gobwas/httphead"
	"github.com/pkg/errors"
)

var headTerminator = []byte("\r\n\r\n")

// readHead consumes a complete HTTP head from buf and returns its first line
// and header fields. It returns (nil, nil, nil) and leaves buf alone while the
// blank line has not arrived yet.
func readHead(buf *bytes.Buffer) ([]byte, Header, error) {
	end := bytes.Index(buf.Bytes(), headTerminator)
	if end < 0 {
		if buf.Len() > MaxHandshakeSize {
			return nil, nil, handshakeErr(ErrHandshakeTooLarge)
		}
		return nil, nil, nil
	}
	if end+len(headTerminator) > MaxHandshakeSize {
		return nil, nil, handshakeErr(ErrHandshakeTooLarge)
	}

	head := bytes.Clone(buf.Next(end + len(headTerminator)))
	lines := bytes.Split(head[:end], []byte("\r\n"))

	var header Header
	for _, line := range lines[1:] {
		k, v, ok := httphead.ParseHeaderLine(line)
		if !ok {
			return nil, nil, handshakeErr(errors.Wrapf(ErrMalformedHandshake, "header line %q", line))
		}
		header.Add(string(k), string(v))
	}
	return lines[0], header, nil
}

func writeHeader(h Header, buf *bytes.Buffer) {
	for _, f := range h {
		buf.WriteString(f.Name)
		buf.WriteString(": ")
		buf.WriteString(f.Value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
}

func writeProto(major, minor int, buf *bytes.Buffer) {
	buf.WriteString("HTTP/")
	buf.WriteString(strconv.Itoa(major))
	buf.WriteByte('.')
	buf.WriteString(strconv.Itoa(minor))
}

// ClientHandshake drives the client side of the opening handshake.
type ClientHandshake struct {
	req *RequestFrame
}

// NewClientHandshake prepares an upgrade request for path on host with a
// fresh Sec-WebSocket-Key. An empty path means "/".
func NewClientHandshake(host, path string) (*ClientHandshake, error) {
	if host == "" {
		return nil, handshakeErr(ErrMissingHost)
	}
	if path == "" {
		path = "/"
	}
	key, err := NewSecKey()
	if err != nil {
		return nil, err
	}

	req := &RequestFrame{
		Method:     "GET",
		Path:       path,
		ProtoMajor: 1,
		ProtoMinor: 1,
	}
	req.Header.Add("Host", host)
	req.Header.Add("Upgrade", "websocket")
	req.Header.Add("Connection", "Upgrade")
	req.Header.Add("Sec-WebSocket-Key", key)
	req.Header.Add("Sec-WebSocket-Version", "13")

	return &ClientHandshake{req: req}, nil
}

// Request returns the request that EncodeRequest sends. Extra headers, such
// as Origin, may be added to it before encoding.
func (h *ClientHandshake) Request() *RequestFrame {
	return h.req
}

func (h *ClientHandshake) EncodeRequest(buf *bytes.Buffer) error {
	if err := validateRequest(h.req); err != nil {
		return handshakeErr(err)
	}

	buf.WriteString(h.req.Method)
	buf.WriteByte(' ')
	buf.WriteString(h.req.Path)
	buf.WriteByte(' ')
	writeProto(h.req.ProtoMajor, h.req.ProtoMinor, buf)
	buf.WriteString("\r\n")
	writeHeader(h.req.Header, buf)
	return nil
}

// DecodeResponse parses and verifies the server's response. It returns
// (nil, nil) until the whole head is in buf. Bytes after the head stay in buf
// as the first frame data.
func (h *ClientHandshake) DecodeResponse(buf *bytes.Buffer) (*ResponseFrame, error) {
	line, header, err := readHead(buf)
	if err != nil || line == nil {
		return nil, err
	}

	rl, ok := httphead.ParseResponseLine(line)
	if !ok {
		return nil, handshakeErr(errors.Wrapf(ErrMalformedHandshake, "status line %q", line))
	}
	resp := &ResponseFrame{
		ProtoMajor: rl.Version.Major,
		ProtoMinor: rl.Version.Minor,
		StatusCode: rl.Status,
		Reason:     string(rl.Reason),
		Header:     header,
	}
	if err := validateResponse(resp, h.req.Key()); err != nil {
		return resp, handshakeErr(err)
	}
	return resp, nil
}

// ServerHandshake drives the server side of the opening handshake.
type ServerHandshake struct{}

func NewServerHandshake() *ServerHandshake {
	return &ServerHandshake{}
}

// DecodeRequest parses a client's request head. It returns (nil, nil) until
// the whole head is in buf. The request is not validated, see Accept.
func (h *ServerHandshake) DecodeRequest(buf *bytes.Buffer) (*RequestFrame, error) {
	line, header, err := readHead(buf)
	if err != nil || line == nil {
		return nil, err
	}

	rl, ok := httphead.ParseRequestLine(line)
	if !ok {
		return nil, handshakeErr(errors.Wrapf(ErrMalformedHandshake, "request line %q", line))
	}
	return &RequestFrame{
		Method:     string(rl.Method),
		Path:       string(rl.URI),
		ProtoMajor: rl.Version.Major,
		ProtoMinor: rl.Version.Minor,
		Header:     header,
	}, nil
}

// Accept validates req and builds the 101 response for it.
func (h *ServerHandshake) Accept(req *RequestFrame) (*ResponseFrame, error) {
	if err := validateRequest(req); err != nil {
		return nil, handshakeErr(err)
	}

	resp := &ResponseFrame{
		ProtoMajor: 1,
		ProtoMinor: 1,
		StatusCode: 101,
		Reason:     statusText(101),
	}
	resp.Header.Add("Upgrade", "websocket")
	resp.Header.Add("Connection", "Upgrade")
	resp.Header.Add("Sec-WebSocket-Accept", ComputeAcceptKey(req.Key()))
	return resp, nil
}

// Reject builds the error response for a request that failed with err.
func (h *ServerHandshake) Reject(err error) *ResponseFrame {
	code := rejectStatus(err)
	resp := &ResponseFrame{
		ProtoMajor: 1,
		ProtoMinor: 1,
		StatusCode: code,
		Reason:     statusText(code),
	}
	if code == 426 {
		resp.Header.Add("Sec-WebSocket-Version", "13")
	}
	resp.Header.Add("Connection", "close")
	resp.Header.Add("Content-Length", "0")
	return resp
}

func (h *ServerHandshake) EncodeResponse(resp *ResponseFrame, buf *bytes.Buffer) error {
	if resp.StatusCode < 100 || resp.StatusCode > 999 {
		return handshakeErr(errors.Wrapf(ErrMalformedHandshake, "status %d", resp.StatusCode))
	}

	writeProto(resp.ProtoMajor, resp.ProtoMinor, buf)
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(resp.StatusCode))
	buf.WriteByte(' ')
	buf.WriteString(resp.Reason)
	buf.WriteString("\r\n")
	writeHeader(resp.Header, buf)
	return nil
}
