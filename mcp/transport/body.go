package transport

import (
	"bufio"
	"bytes"

	"github.com/effective-security/mcpbot/pkg/metricskey"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
	"github.com/tidwall/gjson"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbot/mcp", "transport")

var dataPrefix = []byte("data:")

// HasFrames returns true if the body carries push-formatted `data:` lines.
func HasFrames(body []byte) bool {
	return bytes.HasPrefix(body, dataPrefix) || bytes.Contains(body, []byte("\ndata:"))
}

// EmbeddedFrames returns the JSON-RPC messages embedded as `data:` frames
// in the body, in the order they appear. Multi-line data fields are joined
// with a newline, malformed frames are skipped.
func EmbeddedFrames(body []byte) []*Message {
	if !HasFrames(body) {
		return nil
	}

	var list []*Message
	var data bytes.Buffer
	hasData := false

	flush := func() {
		if !hasData {
			return
		}
		frame := bytes.TrimSpace(data.Bytes())
		data.Reset()
		hasData = false
		if len(frame) == 0 {
			return
		}
		msg, err := ParseMessage(frame)
		if err != nil {
			metricskey.StatsMCPMalformedFrames.IncrCounter(1, "post")
			logger.KV(xlog.WARNING,
				"status", "malformed_frame",
				"frame", slices.StringUpto(string(frame), 64),
				"err", err.Error(),
			)
			return
		}
		list = append(list, msg)
	}

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)
	for scanner.Scan() {
		line := bytes.TrimSuffix(scanner.Bytes(), []byte("\r"))
		if len(line) == 0 {
			flush()
			continue
		}
		if bytes.HasPrefix(line, dataPrefix) {
			if hasData {
				data.WriteByte('\n')
			}
			data.Write(bytes.TrimPrefix(bytes.TrimPrefix(line, dataPrefix), []byte(" ")))
			hasData = true
		}
	}
	flush()
	return list
}

// DirectMessage returns the body as a single JSON-RPC message, or nil if the
// body is not a valid JSON-RPC object.
func DirectMessage(body []byte) *Message {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' || !gjson.ValidBytes(body) {
		return nil
	}
	msg, err := ParseMessage(body)
	if err != nil {
		return nil
	}
	return msg
}

// DecodeBody normalizes an ad hoc response body into JSON-RPC messages:
// embedded `data:` frames if present, otherwise a direct JSON reply.
// An empty or unrelated body yields no messages.
func DecodeBody(body []byte) []*Message {
	if HasFrames(body) {
		return EmbeddedFrames(body)
	}
	if msg := DirectMessage(body); msg != nil {
		return []*Message{msg}
	}
	return nil
}

// PeekID returns the id of a JSON-RPC body without decoding it,
// or empty string if not present.
func PeekID(body []byte) string {
	return gjson.GetBytes(body, "id").String()
}
