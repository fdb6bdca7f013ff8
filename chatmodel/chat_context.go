package chatmodel

import (
	"context"
	"strconv"
	"sync"

	"github.com/effective-security/x/values"
	"github.com/effective-security/xdb/pkg/flake"
)

// Sender is the author of the chat message
type Sender struct {
	ID          string
	Email       string
	DisplayName string
}

// ChatContext is the context of one chat request.
// It carries the chat (room) ID, the sender, and the run ID of the request.
type ChatContext interface {
	// GetChatID returns the ID of the chat room
	GetChatID() string
	// RunID returns the unique ID of the request
	RunID() string
	// Sender returns the author of the message
	Sender() Sender
	// GetMetadata retrieves metadata by key
	GetMetadata(key string) (value any, ok bool)
	// SetMetadata sets metadata by key
	SetMetadata(key string, value any)
}

type chatContext struct {
	chatID   string
	runID    string
	sender   Sender
	metadata sync.Map
}

func (c *chatContext) GetChatID() string {
	return c.chatID
}

func (c *chatContext) RunID() string {
	return c.runID
}

func (c *chatContext) Sender() Sender {
	return c.sender
}

func (c *chatContext) GetMetadata(key string) (value any, ok bool) {
	return c.metadata.Load(key)
}

func (c *chatContext) SetMetadata(key string, value any) {
	c.metadata.Store(key, value)
}

// NewChatContext returns ChatContext with a new run ID.
// If chatID is empty, a new ID is generated.
func NewChatContext(chatID string, sender Sender) ChatContext {
	return &chatContext{
		chatID: values.StringsCoalesce(chatID, NewID()),
		runID:  NewID(),
		sender: sender,
	}
}

type contextKey int

const (
	keyContext contextKey = iota
)

// WithChatContext returns a new context with ChatContext value
func WithChatContext(ctx context.Context, chatCtx ChatContext) context.Context {
	return context.WithValue(ctx, keyContext, chatCtx)
}

// GetChatContext retrieves the ChatContext from the context
func GetChatContext(ctx context.Context) ChatContext {
	if v, ok := ctx.Value(keyContext).(ChatContext); ok {
		return v
	}
	return nil
}

// GetChatID retrieves the chat ID from the provided context.
// If the context does not contain a ChatContext, it returns an empty string.
func GetChatID(ctx context.Context) string {
	if v, ok := ctx.Value(keyContext).(ChatContext); ok {
		return v.GetChatID()
	}
	return ""
}

// GetRunID retrieves the run ID from the provided context.
func GetRunID(ctx context.Context) string {
	if v, ok := ctx.Value(keyContext).(ChatContext); ok {
		return v.RunID()
	}
	return ""
}

// NewID generates a new ID using the flake ID generator.
func NewID() string {
	return strconv.FormatUint(flake.DefaultIDGenerator.NextID(), 10)
}
