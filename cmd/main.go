package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/victornm/livequiz/internal/config"
	"github.com/victornm/livequiz/internal/server"
)

func main() {
	c, err := loadConfig()
	if err != nil {
		slog.Error("main: load config failed", "error", err)
		os.Exit(1)
	}

	s, err := server.Init(c)
	if err != nil {
		slog.Error("main: init server failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	go s.Start()

	<-ctx.Done()
	slog.Info("main: signal received, shutting down")
	s.Shutdown()
}

// loadConfig reads the file named by CONFIG_PATH over the server defaults and applies the
// configured log level.
func loadConfig() (server.Config, error) {
	c := server.DefaultConfig()
	if err := config.Load("", &c); err != nil {
		return c, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return c, fmt.Errorf("log level %q: %w", c.Log.Level, err)
	}
	slog.SetLogLoggerLevel(level)

	return c, nil
}
