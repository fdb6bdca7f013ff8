// Command mcpbot runs the MCP troubleshooter bot in the console.
//
// Each line of stdin is sent to the bot as a message in one room,
// the answers are printed to stdout.
//
//	mcpbot -config mcpbot.yaml -room console
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpbot/bot"
	"github.com/effective-security/mcpbot/chatmodel"
	"github.com/effective-security/mcpbot/config"
	"github.com/effective-security/mcpbot/mcp"
	"github.com/effective-security/mcpbot/pkg/llmfactory"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpbot", "mcpbot")

// Version is set at build time
var Version = "0.1.0"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		os.Exit(1)
	}
}

type flags struct {
	config     string
	server     string
	room       string
	logLevel   string
	dumpConfig bool
}

func parseFlags(args []string, out io.Writer) (*flags, error) {
	f := new(flags)
	fs := flag.NewFlagSet("mcpbot", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&f.config, "config", "mcpbot.yaml", "path to the config file, mcp_server_config.json is also accepted")
	fs.StringVar(&f.server, "server", "", "name of the MCP server in the config, the first one by default")
	fs.StringVar(&f.room, "room", "console", "room ID of the console conversation")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: TRACE|DEBUG|INFO|NOTICE|WARNING|ERROR|CRITICAL")
	fs.BoolVar(&f.dumpConfig, "dump-config", false, "print the config with redacted secrets and exit")
	if err := fs.Parse(args); err != nil {
		return nil, errors.WithStack(err)
	}
	return f, nil
}

var logLevels = map[string]xlog.LogLevel{
	"TRACE":    xlog.TRACE,
	"DEBUG":    xlog.DEBUG,
	"INFO":     xlog.INFO,
	"NOTICE":   xlog.NOTICE,
	"WARNING":  xlog.WARNING,
	"ERROR":    xlog.ERROR,
	"CRITICAL": xlog.CRITICAL,
}

func parseLogLevel(s string) (xlog.LogLevel, error) {
	if s == "" {
		return xlog.INFO, nil
	}
	l, ok := logLevels[strings.ToUpper(s)]
	if !ok {
		return xlog.INFO, errors.Newf("invalid log level: %s", s)
	}
	return l, nil
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	f, err := parseFlags(args, out)
	if err != nil {
		return err
	}

	cfg, err := config.Load(f.config)
	if err != nil {
		return err
	}

	if f.dumpConfig {
		dump, err := cfg.Dump()
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, dump)
		return errors.WithStack(err)
	}

	level, err := parseLogLevel(values.StringsCoalesce(f.logLevel, cfg.Bot.LogLevel))
	if err != nil {
		return err
	}
	xlog.SetFormatter(xlog.NewStringFormatter(os.Stderr))
	xlog.SetGlobalLogLevel(level)

	server, err := cfg.Server(f.server)
	if err != nil {
		return err
	}

	timeout, err := cfg.Bot.GetRequestTimeout()
	if err != nil {
		return err
	}

	opts := []mcp.Option{
		mcp.WithHeaders(server.Headers),
		mcp.WithClientInfo("mcpbot", Version),
	}
	if timeout > 0 {
		opts = append(opts, mcp.WithRequestTimeout(timeout))
	}
	client := mcp.NewClient(server.URL, opts...)
	defer func() {
		_ = client.Close()
	}()

	svc, err := bot.New(cfg, client, llmfactory.New(&cfg.LLM), newConsole(out))
	if err != nil {
		return err
	}

	if err = svc.Start(ctx); err != nil {
		// the service reconnects on the next message
		logger.ContextKV(ctx, xlog.ERROR,
			"status", "start_failed",
			"url", server.URL,
			"err", err.Error(),
		)
	}

	user := values.StringsCoalesce(os.Getenv("USER"), "user")
	if err = svc.Greet(ctx, f.room, user); err != nil {
		return err
	}
	return chatLoop(ctx, svc, f.room, user, in)
}

// eventHandler is implemented by bot.Service
type eventHandler interface {
	HandleEvent(ctx context.Context, ev bot.Event) error
}

// chatLoop sends each non empty line from in as the event,
// until EOF or the context is canceled.
func chatLoop(ctx context.Context, handler eventHandler, room, user string, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return errors.WithStack(err)
				default:
					return nil
				}
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			err := handler.HandleEvent(ctx, bot.Event{
				ID:                chatmodel.NewID(),
				SenderID:          user,
				SenderDisplayName: user,
				RoomID:            room,
				Text:              line,
			})
			if err != nil {
				logger.ContextKV(ctx, xlog.ERROR, "status", "event_failed", "err", err.Error())
			}
		}
	}
}

// console prints the messages to the writer
type console struct {
	out  io.Writer
	lock sync.Mutex
}

func newConsole(out io.Writer) *console {
	return &console{out: out}
}

// Send implements bot.Sender
func (c *console) Send(_ context.Context, roomID, markdown string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	_, err := fmt.Fprintf(c.out, "[%s] %s\n\n", roomID, markdown)
	return errors.WithStack(err)
}
