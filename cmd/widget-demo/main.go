// Interactive terminal client for the assistant widget. Each line typed is
// one user turn; replies and notices print as they arrive.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/bookline/assist-widget/internal/channel"
	"github.com/bookline/assist-widget/internal/config"
	"github.com/bookline/assist-widget/internal/convlog"
	"github.com/bookline/assist-widget/internal/session"
	"github.com/bookline/assist-widget/internal/widget"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	convLog := convlog.Noop()
	if cfg.ConversationLog.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.ConversationLog.Path), 0o755); err != nil {
			slog.Error("Failed to create conversation log directory", "error", err)
			os.Exit(1)
		}
		sqliteLog, err := convlog.NewSQLite(cfg.ConversationLog.Path, cfg.ConversationLog.QueueSize)
		if err != nil {
			slog.Error("Failed to open conversation log", "error", err)
			os.Exit(1)
		}
		convLog = sqliteLog
	}
	defer func() {
		if closeErr := convLog.Close(); closeErr != nil {
			slog.Error("Failed to close conversation log", "error", closeErr)
		}
	}()

	w := widget.New(widget.Options{
		TenantID:        cfg.TenantID,
		BaseAddress:     cfg.AssistantURL,
		RetryDelay:      cfg.RetryDelay,
		PingInterval:    cfg.PingInterval,
		PongTimeout:     cfg.PongTimeout,
		ConversationLog: convLog,
		OnEntry: func(e session.Entry) {
			if e.Origin == session.OriginAssistant {
				fmt.Printf("assistant> %s\n", e.Text)
			}
		},
		OnStateChange: func(s channel.State) {
			fmt.Printf("[channel: %s]\n", s)
		},
	})
	defer w.Close()
	w.Open()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Connected to %s as tenant %q. Type a message, Ctrl-C to quit.\n", cfg.AssistantURL, cfg.TenantID)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nbye")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line == "" {
				continue
			}
			if err := w.Send(ctx, line); err != nil {
				fmt.Printf("[send failed: %v]\n", err)
			}
		}
	}
}
