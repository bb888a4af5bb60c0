package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/go-forumsync/internal/auth"
	"github.com/npezzotti/go-forumsync/internal/config"
	"github.com/npezzotti/go-forumsync/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const expiryWarning = time.Hour

var (
	version = "dev"
	commit  = "unknown"
)

var (
	envFiles []string
	logLevel string
	token    string
)

var rootCmd = &cobra.Command{
	Use:   "forumsync",
	Short: "Real-time client for the forum chat and notification stream",
	Long: `forumsync connects to the forum backend with a session token and keeps
presence, conversations and unread counters in sync with the server.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv file(s) to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "session token (default $FORUMSYNC_TOKEN)")

	rootCmd.AddCommand(listenCmd, unreadCmd)
}

type env struct {
	cfg  *config.Config
	log  *zap.Logger
	cred *auth.Credential
}

// setup loads the configuration, the logger and the credential shared by
// every command.
func setup() (*env, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if token != "" {
		cfg.Token = token
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	cred, err := auth.ParseCredential(cfg.Token)
	if err != nil {
		if errors.Is(err, auth.ErrNoCredential) {
			return nil, fmt.Errorf("no session token, set FORUMSYNC_TOKEN or pass --token")
		}
		return nil, fmt.Errorf("credential: %w", err)
	}
	if exp := cred.ExpiresAt(); !exp.IsZero() && time.Until(exp) < expiryWarning {
		logger.Warn("session token expires soon", zap.Time("expires_at", exp))
	}

	return &env{cfg: cfg, log: logger, cred: cred}, nil
}
