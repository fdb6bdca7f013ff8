// Package sse implements the persistent push channel over Server-Sent Events.
package sse

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbot/mcp/transport"
	"github.com/effective-security/mcpbot/pkg/metricskey"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbot/mcp/transport", "sse")

// DefaultConnectTimeout is the default time to wait for the channel to become ready.
const DefaultConnectTimeout = 30 * time.Second

// Option configures the Session
type Option func(*Session)

// WithHTTPClient sets the HTTP client for the stream.
// The client must not have a global Timeout, as the stream is long lived.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Session) {
		s.httpClient = client
	}
}

// WithHeaders sets extra headers sent with the stream request
func WithHeaders(headers map[string]string) Option {
	return func(s *Session) {
		for k, v := range headers {
			s.headers.Set(k, v)
		}
	}
}

// WithConnectTimeout sets the time to wait for the channel to become ready
func WithConnectTimeout(timeout time.Duration) Option {
	return func(s *Session) {
		s.connectTimeout = timeout
	}
}

// Session owns the lifecycle of the push channel: connect, ready, error.
type Session struct {
	url            string
	httpClient     *http.Client
	headers        http.Header
	connectTimeout time.Duration

	state atomic.Int32

	connectLock sync.Mutex
	lock        sync.RWMutex
	generation  uint64
	cancel      context.CancelFunc

	messageHandler  transport.MessageHandler
	errorHandler    func(error)
	endpointHandler func(string)
}

var _ transport.PushChannel = (*Session)(nil)

// NewSession returns a push channel session for the server URL
func NewSession(serverURL string, opts ...Option) *Session {
	s := &Session{
		url:            serverURL,
		httpClient:     &http.Client{},
		headers:        make(http.Header),
		connectTimeout: DefaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// URL returns the server URL
func (s *Session) URL() string {
	return s.url
}

// State implements PushChannel.State
func (s *Session) State() transport.ConnectionState {
	return transport.ConnectionState(s.state.Load())
}

func (s *Session) setState(state transport.ConnectionState) {
	old := transport.ConnectionState(s.state.Swap(int32(state)))
	if old != state {
		logger.KV(xlog.DEBUG, "url", s.url, "from", old, "to", state)
	}
}

// SetMessageHandler implements PushChannel.SetMessageHandler
func (s *Session) SetMessageHandler(handler transport.MessageHandler) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.messageHandler = handler
}

// SetErrorHandler implements PushChannel.SetErrorHandler
func (s *Session) SetErrorHandler(handler func(error)) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.errorHandler = handler
}

// SetEndpointHandler implements PushChannel.SetEndpointHandler
func (s *Session) SetEndpointHandler(handler func(string)) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.endpointHandler = handler
}

// Connect opens the channel and blocks until it reports ready,
// or errors before ever becoming ready.
func (s *Session) Connect(ctx context.Context) error {
	s.connectLock.Lock()
	defer s.connectLock.Unlock()

	if s.State() == transport.StateReady {
		return nil
	}

	// drop the previous stream, if any
	s.lock.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.generation++
	gen := s.generation
	s.lock.Unlock()

	s.setState(transport.StateConnecting)

	streamCtx, cancel := context.WithCancel(context.Background())
	connectCtx, cancelTimeout := context.WithTimeout(ctx, s.connectTimeout)
	defer cancelTimeout()
	stop := context.AfterFunc(connectCtx, cancel)

	body, err := s.open(streamCtx)
	if !stop() || err != nil {
		cancel()
		if body != nil {
			_ = body.Close()
		}
		s.setState(transport.StateFailed)
		if err == nil {
			err = connectCtx.Err()
		}
		logger.ContextKV(ctx, xlog.ERROR,
			"status", "connect_failed",
			"url", s.url,
			"err", err.Error(),
		)
		return errors.Wrapf(transport.ErrTransport, "failed to open push channel %s: %s", s.url, err.Error())
	}

	s.lock.Lock()
	s.cancel = cancel
	s.lock.Unlock()

	s.setState(transport.StateReady)
	logger.ContextKV(ctx, xlog.INFO, "status", "ready", "url", s.url)

	go s.readLoop(streamCtx, gen, body)
	return nil
}

func (s *Session) open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	for k, v := range s.headers {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, errors.Newf("unexpected status: %s", resp.Status)
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "text/event-stream" {
		_ = resp.Body.Close()
		return nil, errors.Newf("unexpected content type: %q", resp.Header.Get("Content-Type"))
	}
	return resp.Body, nil
}

func (s *Session) readLoop(ctx context.Context, gen uint64, body io.ReadCloser) {
	defer func() {
		_ = body.Close()
	}()

	dec := NewDecoder(body)
	var err error
	for {
		var ev *Event
		ev, err = dec.Next()
		if err != nil {
			break
		}
		s.dispatch(ctx, ev)
	}

	s.lock.RLock()
	current := s.generation == gen && s.cancel != nil
	handler := s.errorHandler
	s.lock.RUnlock()

	if !current || ctx.Err() != nil {
		// closed by the owner
		return
	}

	if errors.Is(err, io.EOF) {
		err = errors.New("stream closed by server")
	}
	s.setState(transport.StateFailed)
	logger.KV(xlog.ERROR,
		"status", "channel_lost",
		"url", s.url,
		"err", err.Error(),
	)
	if handler != nil {
		handler(errors.Wrapf(transport.ErrTransport, "push channel lost: %s", err.Error()))
	}
}

func (s *Session) dispatch(ctx context.Context, ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.KV(xlog.ERROR, "status", "handler_panic", "event", ev.Name(), "err", r)
		}
	}()

	switch ev.Name() {
	case "endpoint":
		endpoint, err := s.resolve(string(ev.Data))
		if err != nil {
			logger.KV(xlog.WARNING,
				"status", "invalid_endpoint",
				"endpoint", slices.StringUpto(string(ev.Data), 64),
				"err", err.Error(),
			)
			return
		}
		logger.KV(xlog.DEBUG, "status", "endpoint", "endpoint", endpoint)

		s.lock.RLock()
		handler := s.endpointHandler
		s.lock.RUnlock()
		if handler != nil {
			handler(endpoint)
		}
	case "message":
		msg, err := transport.ParseMessage(ev.Data)
		if err != nil {
			metricskey.StatsMCPMalformedFrames.IncrCounter(1, "push")
			logger.KV(xlog.WARNING,
				"status", "malformed_frame",
				"frame", slices.StringUpto(string(ev.Data), 64),
				"err", err.Error(),
			)
			return
		}

		s.lock.RLock()
		handler := s.messageHandler
		s.lock.RUnlock()
		if handler != nil {
			handler(ctx, msg)
		}
	default:
		logger.KV(xlog.DEBUG, "status", "ignored_event", "event", ev.Event)
	}
}

func (s *Session) resolve(endpoint string) (string, error) {
	base, err := url.Parse(s.url)
	if err != nil {
		return "", errors.WithStack(err)
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return base.ResolveReference(ref).String(), nil
}

// Close implements PushChannel.Close
func (s *Session) Close() error {
	s.lock.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.generation++
	s.lock.Unlock()

	if cancel != nil {
		cancel()
	}
	s.setState(transport.StateDisconnected)
	return nil
}
