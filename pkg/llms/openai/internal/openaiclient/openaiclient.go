package openaiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
	"github.com/openai/openai-go/v3"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbot", "openai")

const (
	// DefaultBaseURL is the OpenAI API endpoint
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultChatModel is used when neither the request nor the client specify a model
	DefaultChatModel = "gpt-4"
)

// ErrEmptyResponse is returned when the OpenAI API returns an empty response.
var ErrEmptyResponse = errors.New("empty response")

// Doer performs a HTTP request.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a client for the OpenAI compatible chat completions API.
type Client struct {
	Model string

	token        string
	baseURL      string
	organization string
	headers      map[string]string
	httpClient   Doer
}

// New returns a new OpenAI client.
func New(model, token, baseURL, organization string, headers map[string]string, httpClient Doer) *Client {
	c := &Client{
		Model:        model,
		token:        token,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		organization: organization,
		headers:      headers,
		httpClient:   httpClient,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	return c
}

// BaseURL returns the API endpoint
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreateChat sends the request to /chat/completions.
func (c *Client) CreateChat(ctx context.Context, r *openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	if r.Model == "" {
		if c.Model == "" {
			r.Model = DefaultChatModel
		} else {
			r.Model = c.Model
		}
	}

	bodyBytes, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}

	u := c.baseURL + "/chat/completions"
	logger.ContextKV(ctx, xlog.DEBUG, "url", u, "model", r.Model, "messages", len(r.Messages), "tools", len(r.Tools))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("API returned unexpected status code: %d", resp.StatusCode)
		if resp.StatusCode == http.StatusNotFound {
			msg += ": url: " + u
		}
		var errResp errorMessage
		if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
			logger.ContextKV(ctx, xlog.DEBUG, "status", resp.StatusCode, "body", slices.StringUpto(string(body), 256))
			return nil, errors.New(msg)
		}
		return nil, errors.Newf("%s: %s", msg, errResp.Error.Message)
	}

	var res openai.ChatCompletion
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	if len(res.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	return &res, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.organization != "" {
		req.Header.Set("OpenAI-Organization", c.organization)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
}

type errorMessage struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
