package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultURL is the production Socket.IO endpoint.
const DefaultURL = "wss://sdk.iotiliti.cloud/socket.io/"

const (
	defaultHandshakeTimeout = 10 * time.Second

	// Used until the server's open packet announces its own values.
	defaultPingInterval = 25 * time.Second
	defaultPingTimeout  = 20 * time.Second

	writeWait = 5 * time.Second
)

// Engine.IO packet types, followed by Socket.IO packet types carried in
// Engine.IO message packets.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'

	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioConnectError = '4'
)

// Disconnect reasons reported by the listener itself.
const (
	ReasonManual         = "manual disconnect"
	ReasonConnectTimeout = "connect timeout"
	ReasonServer         = "io server disconnect"
	ReasonTransportClose = "transport close"
)

// Handler receives the three transitions of a push connection. Calls are
// made sequentially from the listener's goroutine.
type Handler interface {
	OnConnected()
	OnDisconnected(reason string)
	OnMessage(raw []byte)
}

// Logger is the logging surface the listener needs.
type Logger interface {
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// Config configures a Listener.
type Config struct {
	// URL of the Socket.IO endpoint. Default: DefaultURL.
	URL string

	// HandshakeTimeout bounds the websocket handshake. Default: 10 s.
	HandshakeTimeout time.Duration

	Logger Logger
}

// Listener opens push connections for a location.
//
// Thread Safety: Run may be called concurrently for different
// connections; each call owns its own socket.
type Listener struct {
	url    string
	dialer *websocket.Dialer
	log    Logger
}

// NewListener creates a Listener.
func NewListener(cfg Config) *Listener {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	return &Listener{
		url: cfg.URL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		log: cfg.Logger,
	}
}

// Run connects and reads until the connection ends or ctx is cancelled.
// OnDisconnected is called exactly once before Run returns, with
// ReasonManual when ctx was cancelled.
//
// Parameters:
//   - ctx: Cancelling it closes the connection
//   - locationID: Location to subscribe to
//   - token: Access token
//   - h: Receives connection transitions and raw events
//
// Returns:
//   - error: nil after a cancellation, otherwise wrapping ErrConnection
func (l *Listener) Run(ctx context.Context, locationID, token string, h Handler) error {
	endpoint, err := BuildURL(l.url, locationID, token)
	if err != nil {
		h.OnDisconnected("connect exception: " + err.Error())
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := l.dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck // handshake body is not used
	}
	if err != nil {
		if ctx.Err() != nil {
			h.OnDisconnected(ReasonManual)
			return nil
		}
		reason := dialFailureReason(err, resp)
		h.OnDisconnected(reason)
		return fmt.Errorf("%w: %s", ErrConnection, reason)
	}

	s := &session{conn: conn, handler: h, log: l.log}
	reason, err := s.serve(ctx)
	h.OnDisconnected(reason)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %s", ErrConnection, reason)
	}
	return nil
}

// BuildURL appends the query parameters the server expects. The token is
// sent as "Bearer <token>" with the space percent-encoded.
func BuildURL(base, locationID, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing push url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("locationId", locationID)
	q.Set("token", "Bearer "+token)
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = strings.ReplaceAll(q.Encode(), "+", "%20")
	return u.String(), nil
}

func dialFailureReason(err error, resp *http.Response) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return ReasonConnectTimeout
	}
	if resp != nil {
		return fmt.Sprintf("connect exception: handshake status %d", resp.StatusCode)
	}
	return "network error: " + err.Error()
}

// session is one live socket.
type session struct {
	conn    *websocket.Conn
	handler Handler
	log     Logger

	writeMu sync.Mutex

	pingInterval time.Duration
	pingTimeout  time.Duration
}

type openPacket struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

// serve runs the read loop and returns the disconnect reason.
func (s *session) serve(ctx context.Context) (string, error) {
	s.pingInterval = defaultPingInterval
	s.pingTimeout = defaultPingTimeout

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.close()
		case <-stop:
		}
	}()
	defer s.conn.Close() //nolint:errcheck // already disconnecting

	for {
		s.conn.SetReadDeadline(time.Now().Add(s.pingInterval + s.pingTimeout)) //nolint:errcheck // surfaced by ReadMessage
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ReasonManual, nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ReasonTransportClose, err
			}
			return "network error: " + err.Error(), err
		}

		reason, done, err := s.handlePacket(data)
		if done {
			return reason, err
		}
	}
}

// handlePacket processes one Engine.IO packet. done reports that the
// connection is over.
func (s *session) handlePacket(data []byte) (reason string, done bool, err error) {
	if len(data) == 0 {
		return "", false, nil
	}

	switch data[0] {
	case eioOpen:
		var open openPacket
		if err := json.Unmarshal(data[1:], &open); err == nil {
			if open.PingInterval > 0 {
				s.pingInterval = time.Duration(open.PingInterval) * time.Millisecond
			}
			if open.PingTimeout > 0 {
				s.pingTimeout = time.Duration(open.PingTimeout) * time.Millisecond
			}
		}
		s.log.Debug("push transport open", "sid", open.SID, "ping_interval", s.pingInterval)
		if err := s.write(string(eioMessage) + string(sioConnect)); err != nil {
			return "network error: " + err.Error(), true, err
		}

	case eioPing:
		if err := s.write(string(eioPong)); err != nil {
			return "network error: " + err.Error(), true, err
		}

	case eioClose:
		return ReasonTransportClose, true, errors.New("server closed transport")

	case eioMessage:
		return s.handleSocketPacket(data[1:])
	}
	return "", false, nil
}

func (s *session) handleSocketPacket(data []byte) (string, bool, error) {
	if len(data) == 0 {
		return "", false, nil
	}
	body := stripNamespace(data[1:])

	switch data[0] {
	case sioConnect:
		s.handler.OnConnected()

	case sioDisconnect:
		return ReasonServer, true, errors.New("server disconnected namespace")

	case sioEvent:
		s.handler.OnMessage(body)

	case sioConnectError:
		reason := "connect_error"
		if msg := connectErrorMessage(body); msg != "" {
			reason += ": " + msg
		}
		return reason, true, errors.New(reason)
	}
	return "", false, nil
}

func (s *session) write(msg string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // surfaced by WriteMessage
	return s.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (s *session) close() {
	s.writeMu.Lock()
	//nolint:errcheck // best-effort close frame
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	s.writeMu.Unlock()
	s.conn.Close() //nolint:errcheck // unblocks the reader
}

// stripNamespace drops an optional "/nsp," prefix and ack id from a
// Socket.IO packet body.
func stripNamespace(body []byte) []byte {
	if len(body) > 0 && body[0] == '/' {
		i := 0
		for i < len(body) && body[i] != ',' {
			i++
		}
		if i < len(body) {
			body = body[i+1:]
		} else {
			body = nil
		}
	}
	for len(body) > 0 && body[0] >= '0' && body[0] <= '9' {
		body = body[1:]
	}
	return body
}

func connectErrorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		return s
	}
	return string(body)
}
