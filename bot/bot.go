// Package bot provides the chat-platform neutral bot service.
//
// The service receives the chat events from an adapter, keeps one
// assistant per room, and sends the answers back via Sender.
package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbot/assistants"
	"github.com/effective-security/mcpbot/callbacks"
	"github.com/effective-security/mcpbot/chatmodel"
	"github.com/effective-security/mcpbot/config"
	"github.com/effective-security/mcpbot/mcp"
	"github.com/effective-security/mcpbot/pkg/llmfactory"
	"github.com/effective-security/mcpbot/pkg/metricskey"
	"github.com/effective-security/mcpbot/skills"
	"github.com/effective-security/mcpbot/store"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbot", "bot")

const (
	// MessageNotConnected is sent when the MCP server is not connected
	MessageNotConnected = "⚠️ MCP Server is not connected. Please try again later."
	// MessageErrorPrefix prefixes the error sent to the room
	MessageErrorPrefix = "❌ Error: "
)

// DefaultAssistantName is used when the skill has no name
const DefaultAssistantName = "troubleshooter"

//go:generate mockgen -source=bot.go -destination=../mocks/mockbot/bot_mock.gen.go -package mockbot

// MCPClient is the MCP server connection shared by all rooms
type MCPClient interface {
	assistants.ToolClient

	Connect(ctx context.Context) error
	Initialize(ctx context.Context) (*mcp.InitializeResult, error)
	IsReady() bool
	IsInitialized() bool
}

// Sender sends the markdown message to the room
type Sender interface {
	Send(ctx context.Context, roomID, markdown string) error
}

var _ MCPClient = (*mcp.Client)(nil)

// Event is the message received from the chat platform
type Event struct {
	ID                string
	SenderID          string
	SenderEmail       string
	SenderDisplayName string
	RoomID            string
	Text              string
}

// Option configures the Service
type Option func(*Service)

// WithSkill sets the skill for the system prompt,
// by default the skill is loaded from the configured skill paths.
func WithSkill(skill *skills.Skill) Option {
	return func(s *Service) {
		s.skill = skill
	}
}

// WithCallback adds the assistant callback
func WithCallback(callback assistants.Callback) Option {
	return func(s *Service) {
		s.callbacks.Add(callback)
	}
}

// WithScratchpadMode sets the mode of the run transcripts
func WithScratchpadMode(mode callbacks.Mode) Option {
	return func(s *Service) {
		s.scratchpad = callbacks.NewScratchpad(mode)
	}
}

// Service handles the chat events
type Service struct {
	cfg     *config.Config
	client  MCPClient
	factory llmfactory.Factory
	sender  Sender

	skill         *skills.Skill
	systemPrompt  string
	assistantName string
	scratchpad    *callbacks.Scratchpad
	callbacks     *callbacks.Fanout

	sessions    *store.Registry[string, *assistants.Assistant]
	connectLock sync.Mutex
}

// New returns the bot service
func New(cfg *config.Config, client MCPClient, factory llmfactory.Factory, sender Sender, opts ...Option) (*Service, error) {
	s := &Service{
		cfg:       cfg,
		client:    client,
		factory:   factory,
		sender:    sender,
		callbacks: callbacks.NewFanout(callbacks.NewPackageLogger(logger)),
		sessions:  store.NewRegistry[string, *assistants.Assistant](),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.scratchpad == nil {
		s.scratchpad = callbacks.NewScratchpad(callbacks.ModeDefault)
	}
	s.callbacks.Add(s.scratchpad)

	if s.skill == nil {
		skill, err := skills.Load(cfg.Bot.SkillPaths...)
		if err != nil {
			return nil, err
		}
		s.skill = skill
	}

	prompt, err := s.skill.Prompt(map[string]any{
		"bot_name": cfg.Bot.GetName(),
	})
	if err != nil {
		return nil, err
	}
	s.systemPrompt = prompt
	s.assistantName = values.StringsCoalesce(s.skill.Name, DefaultAssistantName)

	return s, nil
}

// Name returns the name of the bot
func (s *Service) Name() string {
	return s.cfg.Bot.GetName()
}

// SystemPrompt returns the system prompt of the assistants
func (s *Service) SystemPrompt() string {
	return s.systemPrompt
}

// Sessions returns the number of rooms with a conversation
func (s *Service) Sessions() int {
	return s.sessions.Len()
}

// Start connects to the MCP server, and logs the tool catalog
func (s *Service) Start(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		return err
	}

	list, err := s.client.ListTools(ctx)
	if err != nil {
		return errors.WithMessage(err, "failed to list tools")
	}

	names := make([]string, 0, len(list))
	for _, t := range list {
		names = append(names, t.Name)
	}
	logger.ContextKV(ctx, xlog.INFO,
		"status", "started",
		"bot", s.Name(),
		"assistant", s.assistantName,
		"tools", len(list),
		"names", strings.Join(names, ","),
	)
	return nil
}

// connect opens the push channel if needed, and performs the handshake
func (s *Service) connect(ctx context.Context) error {
	s.connectLock.Lock()
	defer s.connectLock.Unlock()

	if !s.client.IsReady() {
		if err := s.client.Connect(ctx); err != nil {
			return errors.WithMessage(err, "failed to connect to MCP server")
		}
	}
	if !s.client.IsInitialized() {
		if _, err := s.client.Initialize(ctx); err != nil {
			return errors.WithMessage(err, "failed to initialize MCP session")
		}
	}
	return nil
}

// Greet sends the greeting to the room
func (s *Service) Greet(ctx context.Context, roomID, displayName string) error {
	return s.sender.Send(ctx, roomID,
		fmt.Sprintf("Hello %s. I am the %s. Ask me anything!", displayName, s.Name()))
}

// HandleEvent processes the message, and sends the answer to the room.
// The messages from the bot itself and the empty messages are ignored.
func (s *Service) HandleEvent(ctx context.Context, ev Event) error {
	if s.isSelf(ev) {
		return nil
	}
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return nil
	}

	started := time.Now()
	defer metricskey.PerfChatRun.MeasureSince(started, s.Name())

	chatCtx := chatmodel.NewChatContext(ev.RoomID, chatmodel.Sender{
		ID:          ev.SenderID,
		Email:       ev.SenderEmail,
		DisplayName: ev.SenderDisplayName,
	})
	chatCtx.SetMetadata("event_id", ev.ID)
	ctx = chatmodel.WithChatContext(ctx, chatCtx)

	logger.ContextKV(ctx, xlog.INFO,
		"status", "received",
		"room", ev.RoomID,
		"sender", ev.SenderEmail,
		"text", slices.StringUpto(text, 64),
	)

	if !s.client.IsReady() {
		sendErr := s.sender.Send(ctx, ev.RoomID, MessageNotConnected)
		if err := s.connect(ctx); err != nil {
			logger.ContextKV(ctx, xlog.ERROR,
				"status", "reconnect_failed",
				"err", err.Error(),
			)
		}
		return sendErr
	}

	if err := s.connect(ctx); err != nil {
		return s.replyError(ctx, ev.RoomID, err)
	}

	assistant, created, err := s.sessions.GetOrCreate(ev.RoomID, s.newAssistant)
	if err != nil {
		return s.replyError(ctx, ev.RoomID, err)
	}
	if created {
		logger.ContextKV(ctx, xlog.INFO,
			"status", "session_created",
			"room", ev.RoomID,
			"sessions", s.sessions.Len(),
		)
	}

	s.scratchpad.StartRun(ctx)
	answer, err := assistant.ProcessRequest(ctx, text)
	s.logRun(ctx)

	if err != nil {
		return s.replyError(ctx, ev.RoomID, err)
	}
	return s.sender.Send(ctx, ev.RoomID, answer)
}

func (s *Service) isSelf(ev Event) bool {
	return (s.cfg.Bot.ID != "" && ev.SenderID == s.cfg.Bot.ID) ||
		(s.cfg.Bot.Email != "" && strings.EqualFold(ev.SenderEmail, s.cfg.Bot.Email))
}

func (s *Service) newAssistant() (*assistants.Assistant, error) {
	var preferred []string
	if s.cfg.Bot.Model != "" {
		preferred = append(preferred, s.cfg.Bot.Model)
	}
	model, err := s.factory.AssistantModel(s.assistantName, preferred...)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create LLM")
	}

	return assistants.NewAssistant(model, s.client, s.systemPrompt,
		assistants.WithName(s.assistantName),
		assistants.WithModel(s.cfg.Bot.Model),
		assistants.WithMaxTurns(s.cfg.Bot.MaxTurns),
		assistants.WithParallelToolCalls(s.cfg.Bot.ParallelToolCalls),
		assistants.WithCallback(s.callbacks),
	), nil
}

func (s *Service) replyError(ctx context.Context, roomID string, err error) error {
	logger.ContextKV(ctx, xlog.ERROR,
		"status", "request_failed",
		"room", roomID,
		"err", err.Error(),
	)
	return s.sender.Send(ctx, roomID, MessageErrorPrefix+err.Error())
}

func (s *Service) logRun(ctx context.Context) {
	stats, transcript := s.scratchpad.EndRun(ctx)
	if stats == nil {
		return
	}

	logger.ContextKV(ctx, xlog.INFO,
		"status", "run_completed",
		"chat_id", stats.ChatID,
		"run_id", stats.RunID,
		"duration", stats.Duration.String(),
		"llm_calls", stats.AssistantLLMCalls,
		"tool_calls", stats.ToolsCalls,
		"tool_failures", stats.ToolsCallsFailed,
		"tools_used", stats.ToolsUsedString(),
		"tokens", stats.LLMTotalTokens,
	)
	logger.ContextKV(ctx, xlog.DEBUG, "transcript", string(transcript))
}
