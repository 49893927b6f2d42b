// cmd/syncctl/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/leaanthony/clir"

	"github-agent-sync/internal/app"
	"github-agent-sync/internal/config"
	"github-agent-sync/internal/database"
	"github-agent-sync/internal/webhook"
)

const (
	defaultReplayLimit       = 100
	defaultReplayConcurrency = 4
)

type ReplayFlags struct {
	EnvFile     string `name:"env-file" description:"Load environment variables from this file first"`
	Limit       int    `name:"limit" description:"Maximum number of journal entries to replay (default 100)"`
	Concurrency int    `name:"concurrency" description:"Replays in flight at once (default 4)"`
}

type SignFlags struct {
	EnvFile string `name:"env-file" description:"Load environment variables from this file first"`
	File    string `name:"file" description:"Payload file to sign, '-' for stdin"`
	Secret  string `name:"secret" description:"Webhook secret, defaults to WEBHOOK_SECRET"`
}

type StatusFlags struct {
	EnvFile string `name:"env-file" description:"Load environment variables from this file first"`
	Repo    string `name:"repo" description:"Repository as owner/name"`
}

func main() {
	if err := run(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	cli := clir.NewCli("syncctl", "Operator tool for the repository sync service", "v1.0.0")
	cli.NewSubCommandFunction("replay", "Re-drive journaled webhooks that never finished", replayCmd)
	cli.NewSubCommandFunction("sign", "Print the X-Hub-Signature-256 header for a payload", signCmd)
	cli.NewSubCommandFunction("status", "Show the sync state of a repository", statusCmd)
	return cli.Run()
}

func loadEnv(file string) error {
	if file == "" {
		return nil
	}
	if err := godotenv.Load(file); err != nil {
		return fmt.Errorf("load env file %s: %w", file, err)
	}
	return nil
}

func setup(envFile string) (*config.Config, *slog.Logger, error) {
	if err := loadEnv(envFile); err != nil {
		return nil, nil, err
	}
	logLevel := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	config.SetLogLevel(cfg.LogLevel, logLevel)
	return cfg, logger, nil
}

func replayCmd(flags *ReplayFlags) error {
	cfg, logger, err := setup(flags.EnvFile)
	if err != nil {
		return err
	}
	if flags.Limit <= 0 {
		flags.Limit = defaultReplayLimit
	}
	if flags.Concurrency <= 0 {
		flags.Concurrency = defaultReplayConcurrency
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	// Close waits for the syncs the replay started.
	defer a.Close()

	results, err := a.Pipeline.ReplayPending(ctx, flags.Limit, flags.Concurrency)
	counts := map[string]int{}
	for _, r := range results {
		if r.Code != "" {
			counts[r.Code]++
		}
	}
	logger.Info("Replay finished", "entries", len(results), "outcomes", counts)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	return printJSON(os.Stdout, counts)
}

func signCmd(flags *SignFlags) error {
	if err := loadEnv(flags.EnvFile); err != nil {
		return err
	}
	secret := flags.Secret
	if secret == "" {
		secret = os.Getenv("WEBHOOK_SECRET")
	}
	if secret == "" {
		return errors.New("no secret: pass -secret or set WEBHOOK_SECRET")
	}
	if flags.File == "" {
		return errors.New("-file is required")
	}

	var (
		body []byte
		err  error
	)
	if flags.File == "-" {
		body, err = io.ReadAll(os.Stdin)
	} else {
		body, err = os.ReadFile(flags.File)
	}
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	fmt.Println(webhook.Sign([]byte(secret), body))
	return nil
}

type statusOutput struct {
	Repository    string     `json:"repository"`
	Status        string     `json:"status"`
	SyncEnabled   bool       `json:"sync_enabled"`
	AutoUpdate    bool       `json:"auto_update"`
	Error         *string    `json:"error"`
	LastSyncAt    *time.Time `json:"last_sync_at"`
	LastCommitSHA *string    `json:"last_commit_sha"`
}

func statusCmd(flags *StatusFlags) error {
	if flags.Repo == "" {
		return errors.New("-repo is required")
	}
	cfg, logger, err := setup(flags.EnvFile)
	if err != nil {
		return err
	}
	ctx := context.Background()

	db, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	row, err := db.GetRepositorySyncByFullName(ctx, flags.Repo)
	if database.IsNoRows(err) {
		return fmt.Errorf("%s is not linked to an agent", flags.Repo)
	}
	if err != nil {
		return err
	}
	rs, err := row.ToModel()
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, statusOutput{
		Repository:    rs.RepositoryFullName,
		Status:        rs.SyncStatus.String(),
		SyncEnabled:   rs.SyncEnabled,
		AutoUpdate:    rs.AutoUpdate,
		Error:         rs.SyncError,
		LastSyncAt:    rs.LastSyncAt,
		LastCommitSHA: rs.LastCommitSHA,
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
