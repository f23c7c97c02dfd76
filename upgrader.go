package twist

import (
	"bytes"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Middleware runs after the upgrade request is validated and before the
// connection is hijacked. Returning a *MiddlewareErr picks the HTTP response.
type Middleware func(w http.ResponseWriter, r *http.Request) error

// Used to upgrade connections to Websocket connections.
// Holds twist.Options. If you wanna learn more about the options go see their docs.
type Upgrader struct {
	*Options
	Middlewares []Middleware

	handshake *ServerHandshake
}

// Creates a new upgrader with the given options.
// If options is nil, then it will assign a new options with default values.
func NewUpgrader(opts *Options) *Upgrader {
	if opts == nil {
		opts = &Options{}
	}
	opts.WithDefault()

	return &Upgrader{
		Options:   opts,
		handshake: NewServerHandshake(),
	}
}

// Appends the given middleware to the middlewares of the upgrader.
func (u *Upgrader) Use(mw Middleware) {
	u.Middlewares = append(u.Middlewares, mw)
}

// requestFrame views an HTTP request as a handshake request.
func requestFrame(r *http.Request) *RequestFrame {
	path := r.RequestURI
	if path == "" {
		path = r.URL.RequestURI()
	}
	req := &RequestFrame{
		Method:     r.Method,
		Path:       path,
		ProtoMajor: r.ProtoMajor,
		ProtoMinor: r.ProtoMinor,
	}
	if r.Host != "" {
		req.Header.Add("Host", r.Host)
	}
	for name, values := range r.Header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	return req
}

// Upgrade upgrades an HTTP connection to a Websocket connection.
// It validates the request, runs the middlewares, hijacks the connection and
// writes the 101 response. On failure it responds to the client itself.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	resp, err := u.handshake.Accept(requestFrame(r))
	if err != nil {
		if rejectStatus(err) == http.StatusUpgradeRequired {
			w.Header().Set("Sec-WebSocket-Version", "13")
		}
		http.Error(w, err.Error(), rejectStatus(err))
		return nil, err
	}

	for _, middleware := range u.Middlewares {
		if err := middleware(w, r); err != nil {
			if mwErr, ok := AsMiddlewareErr(err); ok {
				http.Error(w, mwErr.Message, mwErr.Code)
			} else {
				http.Error(w, "middleware error", http.StatusBadRequest)
			}
			return nil, err
		}
	}

	c, brw, err := http.NewResponseController(w).Hijack()
	if err != nil {
		if errors.Is(err, http.ErrNotSupported) {
			err = ErrHijackerNotSupported
		}
		http.Error(w, "failed to hijack connection", http.StatusInternalServerError)
		return nil, err
	}

	// bytes the client sent right after its request already sit in brw.
	var buffered []byte
	if n := brw.Reader.Buffered(); n > 0 {
		p, _ := brw.Reader.Peek(n)
		buffered = bytes.Clone(p)
	}

	if err := u.respond(c, resp); err != nil {
		c.Close()
		return nil, err
	}
	return u.connect(c, buffered), nil
}

// Accept runs the server handshake directly over a raw transport, for
// servers that do not go through net/http.
func (u *Upgrader) Accept(c net.Conn) (*Conn, error) {
	if err := c.SetReadDeadline(time.Now().Add(u.ReadWait)); err != nil {
		return nil, errors.Wrap(err, "set read deadline")
	}

	var in bytes.Buffer
	p := make([]byte, u.ReadBufferSize)
	var req *RequestFrame
	for req == nil {
		n, err := c.Read(p)
		in.Write(p[:n])
		req, err = u.decodeRequest(&in, err)
		if err != nil {
			if IsHandshakeErr(err) {
				_ = u.respond(c, u.handshake.Reject(err))
			}
			return nil, err
		}
	}

	resp, err := u.handshake.Accept(req)
	if err != nil {
		_ = u.respond(c, u.handshake.Reject(err))
		return nil, err
	}
	if err := u.respond(c, resp); err != nil {
		return nil, err
	}
	if err := c.SetReadDeadline(time.Time{}); err != nil {
		return nil, errors.Wrap(err, "clear read deadline")
	}
	return u.connect(c, in.Bytes()), nil
}

func (u *Upgrader) decodeRequest(in *bytes.Buffer, readErr error) (*RequestFrame, error) {
	req, err := u.handshake.DecodeRequest(in)
	if err != nil || req != nil {
		return req, err
	}
	if readErr != nil {
		return nil, errors.Wrap(readErr, "read handshake")
	}
	return nil, nil
}

func (u *Upgrader) respond(c net.Conn, resp *ResponseFrame) error {
	var out bytes.Buffer
	if err := u.handshake.EncodeResponse(resp, &out); err != nil {
		return err
	}
	if err := c.SetWriteDeadline(time.Now().Add(u.WriteWait)); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	if _, err := out.WriteTo(c); err != nil {
		return errors.Wrap(err, "write handshake response "+strconv.Itoa(resp.StatusCode))
	}
	return nil
}

func (u *Upgrader) connect(c net.Conn, buffered []byte) *Conn {
	conn := newConn(c, RoleServer, u.Options, buffered)
	conn.logger.Debug("connection upgraded")
	if u.OnConnect != nil {
		u.OnConnect(conn)
	}
	return conn
}
