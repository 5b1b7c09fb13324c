package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/joelsemar/django-webservice-tools/internal/server"
	"github.com/joelsemar/django-webservice-tools/pkg/config"
	"github.com/joelsemar/django-webservice-tools/pkg/logger"
	"github.com/joelsemar/django-webservice-tools/pkg/system"
)

// loadEnv loads environment variables from a .env file if not already set
func loadEnv() {
	if os.Getenv("LOG_LEVEL") == "" { // means .env not loaded
		if err := system.LoadEnv(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Fatal().Err(err).Msg("Error loading .env file")
		}
	}
}

// parseFlags reads the command line. Defaults come from the environment, so
// loadEnv must run first.
func parseFlags(args []string) (configPath string, err error) {
	fs := flag.NewFlagSet("transcoded", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	err = fs.Parse(args)
	return configPath, err
}

func main() {
	loadEnv()
	configPath, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	l := logger.InitLogger(cfg.LogLevel, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, l)
	if err := srv.Run(ctx); err != nil {
		l.Fatal().Err(err).Msg("server stopped")
	}
	l.Info().Msg("server exited")
}
