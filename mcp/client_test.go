package mcp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbot/mcp"
	"github.com/effective-security/mcpbot/mcp/transport"
	"github.com/effective-security/mcpbot/mcp/transport/localtransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, srv *testServer, opts ...mcp.Option) *mcp.Client {
	opts = append([]mcp.Option{mcp.WithHeader("X-App", "mcpbot-test")}, opts...)
	c := mcp.NewClient(srv.URL(), opts...)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() {
		_ = c.Close()
	})
	return c
}

func TestClient_NotConnected(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	c := mcp.NewClient(srv.URL())

	assert.Equal(t, transport.StateDisconnected, c.State())
	assert.False(t, c.IsReady())
	assert.False(t, c.IsInitialized())
	assert.Equal(t, srv.URL(), c.URL())

	_, err := c.Call(ctx, "tools/list", nil)
	assert.ErrorIs(t, err, mcp.ErrNotConnected)

	err = c.Notify(ctx, "notifications/initialized", nil)
	assert.ErrorIs(t, err, mcp.ErrNotConnected)

	_, err = c.CallTool(ctx, "echo", map[string]any{"text": "hi"})
	assert.ErrorIs(t, err, mcp.ErrNotConnected)

	_, err = c.ListTools(ctx)
	assert.ErrorIs(t, err, mcp.ErrNotConnected)

	_, err = c.Initialize(ctx)
	assert.ErrorIs(t, err, mcp.ErrNotConnected)

	assert.Equal(t, 0, c.Pending())
	assert.Empty(t, srv.Methods())
}

func TestClient_Handshake(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	c := connect(t, srv)
	assert.True(t, c.IsReady())

	_, err := c.ListTools(ctx)
	assert.ErrorIs(t, err, mcp.ErrNotInitialized)
	_, err = c.CallTool(ctx, "echo", nil)
	assert.ErrorIs(t, err, mcp.ErrNotInitialized)

	res, err := c.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test-server", res.ServerInfo.Name)
	assert.Equal(t, mcp.ProtocolVersion, res.ProtocolVersion)
	assert.True(t, c.IsInitialized())

	// cached on the same session
	res2, err := c.Initialize(ctx)
	require.NoError(t, err)
	assert.Same(t, res, res2)

	tools, err := c.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "echo", tools[0].Name)
	assert.Equal(t, "Echo the text", tools[0].Description)
	assert.JSONEq(t, `{"type":"object","properties":{"text":{"type":"string"}}}`, string(tools[0].InputSchema))
	assert.Equal(t, "fail", tools[1].Name)

	// a redundant Connect keeps the live session
	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.IsInitialized())
	_, err = c.Initialize(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"initialize", "notifications/initialized", "tools/list", "tools/list"}, srv.Methods())
	// session id is captured from initialize, and sent afterwards
	assert.Equal(t, []string{"", "session-1", "session-1", "session-1"}, srv.Sessions())
	assert.Equal(t, 0, c.Pending())
}

func TestClient_ReplyPaths(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	c := connect(t, srv)
	_, err := c.Initialize(ctx)
	require.NoError(t, err)

	for name, mode := range map[string]int32{
		"direct":   modeDirect,
		"embedded": modeEmbedded,
		"push":     modePush,
	} {
		t.Run(name, func(t *testing.T) {
			srv.mode.Store(mode)

			res, err := c.CallTool(ctx, "echo", map[string]any{"text": name})
			require.NoError(t, err)
			assert.False(t, res.IsError)
			assert.Equal(t, "echo: "+name, res.Text())

			res, err = c.CallTool(ctx, "fail", nil)
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Equal(t, "tool failed", res.Text())

			_, err = c.CallTool(ctx, "unknown", nil)
			require.Error(t, err)
			remote, ok := mcp.IsRemoteError(err)
			require.True(t, ok)
			assert.Equal(t, -32602, remote.Code)
			assert.EqualError(t, err, "jsonrpc error -32602: Unknown tool: unknown")

			raw, err := c.Call(ctx, "resources/list", nil)
			assert.Nil(t, raw)
			assert.EqualError(t, err, "jsonrpc error -32601: Method not found")

			assert.Equal(t, 0, c.Pending())
		})
	}
}

func TestClient_ConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	c := connect(t, srv)
	_, err := c.Initialize(ctx)
	require.NoError(t, err)

	srv.mode.Store(modePush)

	const n = 64
	results := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.CallTool(ctx, "echo", map[string]any{"text": fmt.Sprintf("call-%d", i)})
			if assert.NoError(t, err) {
				results[i] = res.Text()
			}
		}(i)
	}
	wg.Wait()

	for i := range n {
		assert.Equal(t, fmt.Sprintf("echo: call-%d", i), results[i])
	}
	assert.Equal(t, 0, c.Pending())
}

func TestClient_Timeout(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	c := connect(t, srv, mcp.WithRequestTimeout(200*time.Millisecond))
	_, err := c.Initialize(ctx)
	require.NoError(t, err)

	started := time.Now()
	_, err = c.CallTool(ctx, "slow", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, mcp.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(started), 200*time.Millisecond)
	assert.Equal(t, 0, c.Pending())

	t.Run("canceled", func(t *testing.T) {
		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := c.CallTool(cctx, "slow", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 0, c.Pending())
	})
}

func TestClient_StalledPost(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	c := connect(t, srv, mcp.WithRequestTimeout(200*time.Millisecond))
	_, err := c.Initialize(ctx)
	require.NoError(t, err)

	srv.mode.Store(modeStall)

	done := make(chan error, 1)
	go func() {
		_, err := c.CallTool(ctx, "echo", map[string]any{"text": "hi"})
		done <- err
	}()

	select {
	case err = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("call is still blocked on the stalled POST")
	}
	require.Error(t, err)
	assert.ErrorIs(t, err, mcp.ErrTimeout)
	assert.Equal(t, 0, c.Pending())
}

func waitPending(t *testing.T, c *mcp.Client, n int) {
	require.Eventually(t, func() bool {
		return c.Pending() == n
	}, 5*time.Second, 10*time.Millisecond)
}

func TestClient_ChannelLost(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	c := connect(t, srv)
	_, err := c.Initialize(ctx)
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := c.CallTool(ctx, "slow", nil)
		errs <- err
	}()
	waitPending(t, c, 1)

	srv.DropStream()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, mcp.ErrTransport)
	case <-time.After(5 * time.Second):
		t.Fatal("call was not failed")
	}
	require.Eventually(t, func() bool {
		return c.State() == transport.StateFailed
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, c.IsInitialized())

	_, err = c.ListTools(ctx)
	assert.ErrorIs(t, err, mcp.ErrNotConnected)

	// reconnect
	require.NoError(t, c.Connect(ctx))
	_, err = c.Initialize(ctx)
	require.NoError(t, err)
	tools, err := c.ListTools(ctx)
	require.NoError(t, err)
	assert.Len(t, tools, 2)
}

func TestClient_Close(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	c := connect(t, srv)
	_, err := c.Initialize(ctx)
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := c.CallTool(ctx, "slow", nil)
		errs <- err
	}()
	waitPending(t, c, 1)

	require.NoError(t, c.Close())
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, mcp.ErrNotConnected)
	case <-time.After(5 * time.Second):
		t.Fatal("call was not failed")
	}
	assert.Equal(t, transport.StateDisconnected, c.State())
	assert.False(t, c.IsInitialized())
}

func TestClient_ConnectFailed(t *testing.T) {
	c := mcp.NewClient("http://127.0.0.1:1/sse", mcp.WithConnectTimeout(time.Second))
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, mcp.ErrTransport)
	assert.Equal(t, transport.StateFailed, c.State())
}

func TestClient_Local(t *testing.T) {
	ctx := context.Background()

	var calls []string
	lt := localtransport.New(localtransport.Router{
		"initialize": func(_ context.Context, params json.RawMessage) (any, error) {
			var p mcp.InitializeParams
			require.NoError(t, json.Unmarshal(params, &p))
			assert.Equal(t, "bot", p.ClientInfo.Name)
			assert.Equal(t, "2.0.0", p.ClientInfo.Version)
			require.NotNil(t, p.Capabilities.Roots)
			assert.True(t, p.Capabilities.Roots.ListChanged)
			assert.NotNil(t, p.Capabilities.Sampling)

			var raw struct {
				Capabilities json.RawMessage `json:"capabilities"`
			}
			require.NoError(t, json.Unmarshal(params, &raw))
			assert.JSONEq(t, `{"roots":{"listChanged":true},"sampling":{}}`, string(raw.Capabilities))
			return &mcp.InitializeResult{ProtocolVersion: mcp.ProtocolVersion}, nil
		},
		"tools/call": func(_ context.Context, params json.RawMessage) (any, error) {
			var p mcp.CallToolParams
			require.NoError(t, json.Unmarshal(params, &p))
			calls = append(calls, p.Name)
			assert.NotNil(t, p.Arguments)
			return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "image", Data: "AA==", MimeType: "image/png"}}}, nil
		},
		"tools/list": func(_ context.Context, _ json.RawMessage) (any, error) {
			return nil, errors.New("catalog unavailable")
		},
	})

	c := mcp.NewClient("local://mcp",
		mcp.WithPushChannel(lt),
		mcp.WithPoster(lt),
		mcp.WithClientInfo("bot", "2.0.0"),
	)
	require.NoError(t, c.Connect(ctx))
	defer c.Close()

	var notified []string
	c.SetNotificationHandler("*", func(method string, _ json.RawMessage) {
		notified = append(notified, method)
	})

	_, err := c.Initialize(ctx)
	require.NoError(t, err)

	res, err := c.CallTool(ctx, "screenshot", nil)
	require.NoError(t, err)
	assert.Empty(t, res.Text())
	assert.Equal(t, []string{"screenshot"}, calls)

	_, err = c.ListTools(ctx)
	assert.EqualError(t, err, "jsonrpc error -32603: catalog unavailable")

	n, err := transport.NewNotification("notifications/tools/list_changed", nil)
	require.NoError(t, err)
	lt.Push(ctx, n)
	assert.Equal(t, []string{"notifications/tools/list_changed"}, notified)

	lt.Announce("local://other")
	assert.Equal(t, "local://other", lt.Endpoint())

	assert.Equal(t, []string{"initialize", "notifications/initialized", "tools/call", "tools/list"}, lt.Received())
}
