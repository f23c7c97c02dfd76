package twist

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"github.com/gobwas/httphead"
	"github.com/pkg/errors"
)

const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// MaxHandshakeSize bounds the request or response head, blank line included.
const MaxHandshakeSize = 8 << 10

// HeaderField is a single header line.
type HeaderField struct {
	Name  string
	Value string
}

// Header keeps header fields in the order they were added or received.
// Lookups ignore the case of the name.
type Header []HeaderField

func (h Header) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

func (h Header) Values(name string) []string {
	var values []string
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			values = append(values, f.Value)
		}
	}
	return values
}

func (h Header) Has(name string) bool {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

func (h *Header) Add(name, value string) {
	*h = append(*h, HeaderField{Name: name, Value: value})
}

// Set replaces the first field named name and drops the others, keeping its
// position. A missing field is appended.
func (h *Header) Set(name, value string) {
	for i, f := range *h {
		if strings.EqualFold(f.Name, name) {
			(*h)[i].Value = value
			rest := (*h)[i+1:]
			rest.del(name)
			*h = append((*h)[:i+1], rest...)
			return
		}
	}
	h.Add(name, value)
}

func (h *Header) Del(name string) {
	h.del(name)
}

func (h *Header) del(name string) {
	kept := (*h)[:0]
	for _, f := range *h {
		if !strings.EqualFold(f.Name, name) {
			kept = append(kept, f)
		}
	}
	*h = kept
}

// RequestFrame is the opening handshake sent by a client.
type RequestFrame struct {
	Method     string
	Path       string
	ProtoMajor int
	ProtoMinor int
	Header     Header
}

// Key returns the Sec-WebSocket-Key of the request.
func (r *RequestFrame) Key() string {
	return strings.TrimSpace(r.Header.Get("Sec-WebSocket-Key"))
}

// ResponseFrame is the server's answer to a RequestFrame.
type ResponseFrame struct {
	ProtoMajor int
	ProtoMinor int
	StatusCode int
	Reason     string
	Header     Header
}

// Accept returns the Sec-WebSocket-Accept of the response.
func (r *ResponseFrame) Accept() string {
	return strings.TrimSpace(r.Header.Get("Sec-WebSocket-Accept"))
}

// ComputeAcceptKey derives the Sec-WebSocket-Accept value for a client key.
func ComputeAcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + acceptGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// NewSecKey returns a random base64 encoded 16 byte Sec-WebSocket-Key.
func NewSecKey() (string, error) {
	var p [16]byte
	if _, err := rand.Read(p[:]); err != nil {
		return "", errors.Wrap(err, "generate Sec-WebSocket-Key")
	}
	return base64.StdEncoding.EncodeToString(p[:]), nil
}

func validateRequest(r *RequestFrame) error {
	if r.Method != "GET" {
		return ErrWrongMethod
	}
	if r.ProtoMajor < 1 || (r.ProtoMajor == 1 && r.ProtoMinor < 1) {
		return ErrBadHTTPVersion
	}
	if strings.TrimSpace(r.Header.Get("Host")) == "" {
		return ErrMissingHost
	}
	if err := validateUpgradeHeader(r.Header); err != nil {
		return err
	}
	if err := validateConnectionHeader(r.Header); err != nil {
		return err
	}
	if err := validateVersionHeader(r.Header); err != nil {
		return err
	}
	return validateSecKeyHeader(r.Header)
}

func validateResponse(r *ResponseFrame, key string) error {
	if r.StatusCode != 101 {
		return errors.Wrapf(ErrBadStatus, "got %d %s", r.StatusCode, r.Reason)
	}
	if err := validateUpgradeHeader(r.Header); err != nil {
		return err
	}
	if err := validateConnectionHeader(r.Header); err != nil {
		return err
	}
	accept := r.Accept()
	if accept == "" {
		return ErrMissingAccept
	}
	if accept != ComputeAcceptKey(key) {
		return ErrAcceptMismatch
	}
	return nil
}

func validateConnectionHeader(h Header) error {
	if !h.Has("Connection") {
		return ErrMissingConnectionHeader
	}
	if !hasToken(h.Values("Connection"), "upgrade") {
		return ErrInvalidConnectionHeader
	}
	return nil
}

func validateUpgradeHeader(h Header) error {
	if !h.Has("Upgrade") {
		return ErrMissingUpgradeHeader
	}
	if !hasToken(h.Values("Upgrade"), "websocket") {
		return ErrInvalidUpgradeHeader
	}
	return nil
}

func validateVersionHeader(h Header) error {
	header := h.Get("Sec-WebSocket-Version")
	if header == "" {
		return ErrMissingVersionHeader
	} else if strings.TrimSpace(header) != "13" {
		return ErrInvalidVersionHeader
	}

	return nil
}

func validateSecKeyHeader(h Header) error {
	header := strings.TrimSpace(h.Get("Sec-WebSocket-Key"))
	if header == "" {
		return ErrMissingSecKey
	}

	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil || len(decoded) != 16 {
		return ErrInvalidSecKey
	}

	return nil
}

// hasToken reports whether any of the comma separated token lists in values
// holds token, compared case-insensitively.
func hasToken(values []string, token string) bool {
	found := false
	for _, v := range values {
		httphead.ScanTokens([]byte(v), func(t []byte) bool {
			found = bytes.EqualFold(t, []byte(token))
			return !found
		})
		if found {
			return true
		}
	}
	return false
}

// rejectStatus picks the HTTP status answering a failed request validation.
func rejectStatus(err error) int {
	switch {
	case errors.Is(err, ErrWrongMethod):
		return 405
	case errors.Is(err, ErrMissingVersionHeader), errors.Is(err, ErrInvalidVersionHeader),
		errors.Is(err, ErrMissingUpgradeHeader), errors.Is(err, ErrInvalidUpgradeHeader):
		return 426
	case errors.Is(err, ErrHandshakeTooLarge):
		return 431
	default:
		return 400
	}
}

func statusText(code int) string {
	if text := http.StatusText(code); text != "" {
		return text
	}
	return "Status " + strconv.Itoa(code)
}
