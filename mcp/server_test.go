package mcp_test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/effective-security/mcpbot/mcp"
	"github.com/effective-security/mcpbot/mcp/transport"
	"github.com/stretchr/testify/require"
)

const (
	modeDirect int32 = iota
	modeEmbedded
	modePush
	modeStall
)

// testServer emulates an MCP server with the SSE push channel,
// and the POST endpoint announced by the `endpoint` event.
type testServer struct {
	t    *testing.T
	srv  *httptest.Server
	mode atomic.Int32

	frames  chan string
	closing chan struct{}
	drop    chan struct{}

	lock     sync.Mutex
	methods  []string
	sessions []string
}

func newTestServer(t *testing.T) *testServer {
	s := &testServer{
		t:       t,
		frames:  make(chan string, 256),
		closing: make(chan struct{}),
		drop:    make(chan struct{}, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sse", s.handleStream)
	mux.HandleFunc("POST /sse", s.handlePost)
	mux.HandleFunc("POST /messages", s.handlePost)
	s.srv = httptest.NewServer(mux)

	t.Cleanup(func() {
		close(s.closing)
		s.srv.Close()
	})
	return s
}

func (s *testServer) URL() string {
	return s.srv.URL + "/sse"
}

func (s *testServer) Methods() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]string{}, s.methods...)
}

func (s *testServer) Sessions() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]string{}, s.sessions...)
}

// DropStream closes the push channel
func (s *testServer) DropStream() {
	s.drop <- struct{}{}
}

func (s *testServer) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher := w.(http.Flusher)

	_, _ = fmt.Fprint(w, ": welcome\n\nevent: endpoint\ndata: /messages?sessionId=s1\n\n")
	flusher.Flush()

	for {
		select {
		case frame := <-s.frames:
			_, _ = fmt.Fprint(w, frame)
			flusher.Flush()
		case <-s.drop:
			return
		case <-s.closing:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *testServer) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	require.NoError(s.t, err)

	msg, err := transport.ParseMessage(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.lock.Lock()
	s.methods = append(s.methods, msg.Method)
	s.sessions = append(s.sessions, r.Header.Get("Mcp-Session-Id"))
	s.lock.Unlock()

	if msg.Type() == transport.MessageTypeNotification {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if s.mode.Load() == modeStall {
		// open the stream and never answer
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-s.closing:
		}
		return
	}

	reply := s.serve(msg)
	if reply == nil {
		// never answered
		w.WriteHeader(http.StatusAccepted)
		return
	}
	js, err := json.Marshal(reply)
	require.NoError(s.t, err)

	if msg.Method == "initialize" {
		w.Header().Set("Mcp-Session-Id", "session-1")
	}

	switch s.mode.Load() {
	case modePush:
		s.frames <- fmt.Sprintf("event: message\ndata: %s\n\n", js)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("Accepted"))
	case modeEmbedded:
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprintf(w, "event: message\ndata: %s\n\n", js)
	default:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(js)
	}
}

func (s *testServer) serve(msg *transport.Message) *transport.Message {
	reply := &transport.Message{
		JSONRPC: transport.Version,
		ID:      msg.ID,
	}

	var result any
	switch msg.Method {
	case "initialize":
		result = &mcp.InitializeResult{
			ProtocolVersion: mcp.ProtocolVersion,
			ServerInfo:      mcp.ImplementationInfo{Name: "test-server", Version: "0.1.0"},
		}
	case "tools/list":
		var params struct {
			Cursor string `json:"cursor"`
		}
		if len(msg.Params) > 0 {
			require.NoError(s.t, json.Unmarshal(msg.Params, &params))
		}
		if params.Cursor == "" {
			result = &mcp.ListToolsResult{
				Tools: []mcp.ToolDescriptor{
					{Name: "echo", Description: "Echo the text", InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`)},
				},
				NextCursor: "page2",
			}
		} else {
			result = &mcp.ListToolsResult{
				Tools: []mcp.ToolDescriptor{
					{Name: "fail", InputSchema: json.RawMessage(`{"type":"object"}`)},
				},
			}
		}
	case "tools/call":
		var params mcp.CallToolParams
		require.NoError(s.t, json.Unmarshal(msg.Params, &params))
		switch params.Name {
		case "echo":
			result = &mcp.CallToolResult{
				Content: []mcp.ContentBlock{
					{Type: "text", Text: "echo: "},
					{Type: "text", Text: fmt.Sprint(params.Arguments["text"])},
				},
			}
		case "fail":
			result = &mcp.CallToolResult{
				Content: []mcp.ContentBlock{{Type: "text", Text: "tool failed"}},
				IsError: true,
			}
		case "slow":
			return nil
		default:
			reply.Error = &transport.RPCError{Code: -32602, Message: "Unknown tool: " + params.Name}
			return reply
		}
	default:
		if strings.HasPrefix(msg.Method, "notifications/") {
			return nil
		}
		reply.Error = &transport.RPCError{Code: -32601, Message: "Method not found"}
		return reply
	}

	js, err := json.Marshal(result)
	require.NoError(s.t, err)
	reply.Result = js
	return reply
}
