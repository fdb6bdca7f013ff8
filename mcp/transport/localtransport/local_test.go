package localtransport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbot/mcp/transport"
	"github.com/effective-security/mcpbot/mcp/transport/localtransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoRouter() localtransport.Router {
	return localtransport.Router{
		"echo": func(_ context.Context, params json.RawMessage) (any, error) {
			return params, nil
		},
		"fail": func(_ context.Context, _ json.RawMessage) (any, error) {
			return nil, errors.New("boom")
		},
		"remote": func(_ context.Context, _ json.RawMessage) (any, error) {
			return nil, &transport.RemoteError{Code: -32602, Message: "Invalid params"}
		},
	}
}

func TestTransport_Lifecycle(t *testing.T) {
	tr := localtransport.New(echoRouter())
	assert.Equal(t, transport.StateDisconnected, tr.State())

	tr.SetConnectError(errors.New("refused"))
	err := tr.Connect(context.Background())
	assert.ErrorIs(t, err, transport.ErrTransport)
	assert.Equal(t, transport.StateFailed, tr.State())

	tr.SetConnectError(nil)
	require.NoError(t, tr.Connect(context.Background()))
	assert.Equal(t, transport.StateReady, tr.State())

	var lost error
	tr.SetErrorHandler(func(err error) { lost = err })
	tr.Drop("reset")
	assert.Equal(t, transport.StateFailed, tr.State())
	assert.ErrorIs(t, lost, transport.ErrTransport)

	var endpoint string
	tr.SetEndpointHandler(func(ep string) { endpoint = ep })
	tr.Announce("local://other")
	assert.Equal(t, "local://other", endpoint)

	require.NoError(t, tr.Close())
	assert.Equal(t, transport.StateDisconnected, tr.State())
}

func TestTransport_Post(t *testing.T) {
	ctx := context.Background()
	tr := localtransport.New(echoRouter())
	require.NoError(t, tr.Connect(ctx))

	pushed := make(chan *transport.Message, 1)
	tr.SetMessageHandler(func(_ context.Context, msg *transport.Message) {
		pushed <- msg
	})

	req, err := transport.NewRequest("1", "echo", map[string]any{"v": 1})
	require.NoError(t, err)

	t.Run("direct", func(t *testing.T) {
		tr.SetReplyMode(localtransport.ReplyDirect)
		resp, err := tr.Post(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"jsonrpc":"2.0","id":"1","result":{"v":1}}`, string(resp.Body))
	})

	t.Run("embedded", func(t *testing.T) {
		tr.SetReplyMode(localtransport.ReplyEmbedded)
		resp, err := tr.Post(ctx, req)
		require.NoError(t, err)
		list := transport.DecodeBody(resp.Body)
		require.Len(t, list, 1)
		assert.Equal(t, "1", list[0].MessageID())
	})

	t.Run("push", func(t *testing.T) {
		tr.SetReplyMode(localtransport.ReplyPush)
		resp, err := tr.Post(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Empty(t, transport.DecodeBody(resp.Body))
		select {
		case msg := <-pushed:
			assert.Equal(t, transport.MessageTypeResponse, msg.Type())
		case <-time.After(5 * time.Second):
			t.Fatal("reply not pushed")
		}
	})

	t.Run("errors", func(t *testing.T) {
		tr.SetReplyMode(localtransport.ReplyDirect)
		for method, expected := range map[string]string{
			"fail":    `{"code":-32603,"message":"boom"}`,
			"remote":  `{"code":-32602,"message":"Invalid params"}`,
			"missing": `{"code":-32601,"message":"Method not found: missing"}`,
		} {
			m, err := transport.NewRequest("e", method, nil)
			require.NoError(t, err)
			resp, err := tr.Post(ctx, m)
			require.NoError(t, err)
			msg := transport.DirectMessage(resp.Body)
			require.NotNil(t, msg)
			js, err := json.Marshal(msg.Error)
			require.NoError(t, err)
			assert.JSONEq(t, expected, string(js), method)
		}
	})

	t.Run("notification", func(t *testing.T) {
		n, err := transport.NewNotification("notifications/initialized", nil)
		require.NoError(t, err)
		resp, err := tr.Post(ctx, n)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	})

	t.Run("canceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := tr.Post(cctx, req)
		assert.ErrorIs(t, err, transport.ErrTransport)
	})

	assert.Equal(t, "notifications/initialized", tr.Received()[len(tr.Received())-1])
	assert.Equal(t, "local://mcp", tr.Endpoint())
	tr.SetEndpoint("local://x")
	assert.Equal(t, "local://x", tr.Endpoint())
}
