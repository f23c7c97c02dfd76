package twist

import (
	"bytes"
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Dialer opens client connections.
type Dialer struct {
	*Options
	// Extra handshake headers, such as Origin.
	Header Header
	// Used for wss URLs. A nil config uses the defaults with the URL host as
	// server name.
	TLSConfig *tls.Config
	// NetDial overrides how the transport is opened.
	NetDial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Dial connects to a ws:// or wss:// URL with the given options. opts may be nil.
func Dial(ctx context.Context, rawURL string, opts *Options) (*Conn, *ResponseFrame, error) {
	return (&Dialer{Options: opts}).Dial(ctx, rawURL)
}

// Dial opens the transport, runs the client handshake and returns the
// connection together with the server's response.
func (d *Dialer) Dial(ctx context.Context, rawURL string) (*Conn, *ResponseFrame, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	opts := d.Options
	if opts == nil {
		opts = &Options{}
	}
	opts.WithDefault()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parse url")
	}
	addr, secure, err := hostPort(u)
	if err != nil {
		return nil, nil, err
	}

	c, err := d.dial(ctx, addr, secure, u.Hostname())
	if err != nil {
		return nil, nil, err
	}

	resp, buffered, err := d.handshake(ctx, c, u, opts)
	if err != nil {
		c.Close()
		return nil, resp, err
	}

	conn := newConn(c, RoleClient, opts, buffered)
	conn.logger.Debug("connection established", zap.String("url", u.Redacted()))
	if opts.OnConnect != nil {
		opts.OnConnect(conn)
	}
	return conn, resp, nil
}

func hostPort(u *url.URL) (addr string, secure bool, err error) {
	var port string
	switch u.Scheme {
	case "ws":
		port = "80"
	case "wss":
		port, secure = "443", true
	default:
		return "", false, errors.Wrapf(ErrBadScheme, "got %q", u.Scheme)
	}
	if u.Port() != "" {
		port = u.Port()
	}
	return net.JoinHostPort(u.Hostname(), port), secure, nil
}

func (d *Dialer) dial(ctx context.Context, addr string, secure bool, serverName string) (net.Conn, error) {
	dial := d.NetDial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	c, err := dial(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	if !secure {
		return c, nil
	}

	cfg := d.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg = cfg.Clone()
		cfg.ServerName = serverName
	}
	tc := tls.Client(c, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		c.Close()
		return nil, errors.Wrap(err, "tls handshake")
	}
	return tc, nil
}

// handshake sends the upgrade request and reads the response. Bytes the
// server sent after its response are returned as buffered.
func (d *Dialer) handshake(ctx context.Context, c net.Conn, u *url.URL, opts *Options) (*ResponseFrame, []byte, error) {
	hs, err := NewClientHandshake(u.Host, u.RequestURI())
	if err != nil {
		return nil, nil, err
	}
	req := hs.Request()
	for _, f := range d.Header {
		req.Header.Add(f.Name, f.Value)
	}

	if err := c.SetDeadline(deadline(ctx, opts.ReadWait)); err != nil {
		return nil, nil, errors.Wrap(err, "set handshake deadline")
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.SetDeadline(aLongTimeAgo)
	})
	defer stop()

	var out bytes.Buffer
	if err := hs.EncodeRequest(&out); err != nil {
		return nil, nil, err
	}
	if _, err := out.WriteTo(c); err != nil {
		return nil, nil, errors.Wrap(err, "write handshake request")
	}

	var in bytes.Buffer
	p := make([]byte, opts.ReadBufferSize)
	for {
		n, rerr := c.Read(p)
		in.Write(p[:n])

		resp, err := hs.DecodeResponse(&in)
		if err != nil || resp != nil {
			if err != nil {
				return resp, nil, err
			}
			stop()
			if err := c.SetDeadline(time.Time{}); err != nil {
				return resp, nil, errors.Wrap(err, "clear handshake deadline")
			}
			return resp, bytes.Clone(in.Bytes()), nil
		}
		if rerr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, ctxErr
			}
			return nil, nil, errors.Wrap(rerr, "read handshake response")
		}
	}
}
