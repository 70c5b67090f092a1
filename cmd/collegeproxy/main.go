// Command collegeproxy is the stateless pass-through for College Scorecard
// school search. It holds the upstream API key so clients never ship it.
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/akashpatel/courseloop/internal/config"
	"github.com/akashpatel/courseloop/internal/server"
)

func main() {
	godotenv.Load()

	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))

	if cfg.College.APIKey == "" {
		logger.Warn("COURSELOOP_COLLEGE_API_KEY not set — upstream searches will be rejected")
	}

	srv := server.New(server.Config{
		Addr:           cfg.Proxy.Addr,
		CollegeBaseURL: cfg.College.BaseURL,
		CollegeAPIKey:  cfg.College.APIKey,
	}, logger)

	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
