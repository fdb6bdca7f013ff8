package httptransport_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/effective-security/mcpbot/mcp/transport"
	"github.com/effective-security/mcpbot/mcp/transport/httptransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPost(t *testing.T) {
	var lock sync.Mutex
	var sessions []string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json, text/event-stream", r.Header.Get("Accept"))
		assert.Equal(t, "mcpbot", r.Header.Get("X-App"))

		lock.Lock()
		sessions = append(sessions, r.Header.Get(httptransport.SessionIDHeader))
		lock.Unlock()

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var msg transport.Message
		require.NoError(t, json.Unmarshal(body, &msg))

		w.Header().Set(httptransport.SessionIDHeader, "sess-1")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"` + msg.MessageID() + `","result":{}}`))
	}))
	defer ts.Close()

	p := httptransport.NewHTTPTransport(ts.URL+"/mcp", httptransport.WithHeaders(map[string]string{"X-App": "mcpbot"}))
	assert.Equal(t, ts.URL+"/mcp", p.Endpoint())

	msg, err := transport.NewRequest("1", "initialize", map[string]any{"protocolVersion": "2024-11-05"})
	require.NoError(t, err)

	resp, err := p.Post(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.ContentType)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"1","result":{}}`, string(resp.Body))
	assert.Equal(t, "sess-1", p.SessionID())

	msg, err = transport.NewRequest("2", "tools/list", nil)
	require.NoError(t, err)
	_, err = p.Post(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, []string{"", "sess-1"}, sessions)

	p.ResetSession()
	assert.Empty(t, p.SessionID())
}

func TestPost_Errors(t *testing.T) {
	msg, err := transport.NewNotification("notifications/initialized", nil)
	require.NoError(t, err)

	t.Run("status", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "no session", http.StatusBadRequest)
		}))
		defer ts.Close()

		p := httptransport.NewHTTPTransport(ts.URL, httptransport.WithHTTPClient(ts.Client()))
		_, err := p.Post(context.Background(), msg)
		require.Error(t, err)
		assert.ErrorIs(t, err, transport.ErrTransport)
		assert.Contains(t, err.Error(), "400 Bad Request")
	})

	t.Run("accepted", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		}))
		defer ts.Close()

		p := httptransport.NewHTTPTransport("http://invalid.localhost")
		p.SetEndpoint(ts.URL)
		resp, err := p.Post(context.Background(), msg)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Empty(t, resp.Body)
	})

	t.Run("unreachable", func(t *testing.T) {
		p := httptransport.NewHTTPTransport("http://127.0.0.1:1/mcp")
		_, err := p.Post(context.Background(), msg)
		require.Error(t, err)
		assert.ErrorIs(t, err, transport.ErrTransport)
	})

	t.Run("invalid url", func(t *testing.T) {
		p := httptransport.NewHTTPTransport("://bad")
		_, err := p.Post(context.Background(), msg)
		require.Error(t, err)
		assert.ErrorIs(t, err, transport.ErrTransport)
	})
}
