// Command janitor runs sync and classification for one mailbox account from the shell.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inboxjanitor/internal/bootstrap"
	"inboxjanitor/internal/email/usecase"
	"inboxjanitor/pkg/config"
	applog "inboxjanitor/pkg/logger"

	"github.com/google/uuid"
	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
)

// maxSyncSteps bounds a single CLI sync so a stuck run cannot loop forever
const maxSyncSteps = 1000

type environment struct {
	ctx    context.Context
	cfg    *config.Config
	logger *logrus.Logger
}

func (e *environment) app() (*bootstrap.App, error) {
	db, err := bootstrap.OpenDB(e.cfg, e.logger)
	if err != nil {
		return nil, err
	}
	return bootstrap.New(e.cfg, db, e.logger, bootstrap.Options{})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type migrateCommand struct {
	env *environment
}

func (c *migrateCommand) Execute(_ []string) error {
	_, err := bootstrap.OpenDB(c.env.cfg, c.env.logger)
	return err
}

type AccountOption struct {
	AccountID string `long:"account" short:"a" description:"mailbox account id" required:"true"`
}

type syncCommand struct {
	env *environment
	AccountOption
	Budget time.Duration `long:"budget" description:"wall-clock budget per invocation, e.g. 2m"`
	Once   bool          `long:"once" description:"run a single invocation instead of syncing to completion"`
}

func (c *syncCommand) Execute(_ []string) error {
	app, err := c.env.app()
	if err != nil {
		return err
	}
	result, err := syncAccount(c.env.ctx, app.Sync, c.AccountID, c.Budget, c.Once, c.env.logger)
	if result != nil {
		if printErr := printJSON(result); printErr != nil {
			return printErr
		}
	}
	return err
}

func syncAccount(ctx context.Context, sync usecase.SyncUsecase, accountID string, budget time.Duration, once bool, logger *logrus.Logger) (*usecase.SyncStepResult, error) {
	var last *usecase.SyncStepResult
	for step := 1; step <= maxSyncSteps; step++ {
		result, err := sync.RunSync(ctx, "", accountID, usecase.RunOptions{Budget: budget})
		if result != nil {
			last = result
			logger.WithFields(logrus.Fields{
				"step":      step,
				"processed": result.Progress.Processed,
				"total":     result.Progress.TotalMessages,
				"status":    result.Progress.Status,
			}).Info("[CLI] Sync step finished")
		}
		if err != nil {
			return last, err
		}
		if once || !result.HasMore {
			return last, nil
		}
		if ctx.Err() != nil {
			return last, ctx.Err()
		}
	}
	return last, fmt.Errorf("sync did not finish after %d invocations", maxSyncSteps)
}

type statusCommand struct {
	env *environment
	AccountOption
}

func (c *statusCommand) Execute(_ []string) error {
	app, err := c.env.app()
	if err != nil {
		return err
	}
	progress, err := app.Sync.GetStatus("", c.AccountID)
	if err != nil {
		return err
	}
	return printJSON(progress)
}

type classifyCommand struct {
	env *environment
	AccountOption
}

func (c *classifyCommand) Execute(_ []string) error {
	app, err := c.env.app()
	if err != nil {
		return err
	}
	result, err := app.Classification.RunClassification(c.env.ctx, "", c.AccountID)
	if err != nil {
		return err
	}
	return printJSON(result)
}

type runCommand struct {
	env *environment
	AccountOption
	Budget time.Duration `long:"budget" description:"wall-clock budget per sync invocation"`
}

func (c *runCommand) Execute(_ []string) error {
	app, err := c.env.app()
	if err != nil {
		return err
	}
	if _, err := syncAccount(c.env.ctx, app.Sync, c.AccountID, c.Budget, false, c.env.logger); err != nil {
		return err
	}
	result, err := app.Classification.RunClassification(c.env.ctx, "", c.AccountID)
	if err != nil {
		return err
	}
	return printJSON(result)
}

type tokenCommand struct {
	env    *environment
	UserID string        `long:"user-id" description:"subject of the token; generated when empty"`
	Email  string        `long:"email" description:"email claim" required:"true"`
	Name   string        `long:"name" description:"name claim"`
	TTL    time.Duration `long:"ttl" default:"24h" description:"token lifetime"`
}

func (c *tokenCommand) Execute(_ []string) error {
	app, err := c.env.app()
	if err != nil {
		return err
	}
	userID := c.UserID
	if userID == "" {
		userID = uuid.NewString()
	}
	token, err := app.Auth.IssueToken(userID, c.Email, c.Name, c.TTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func main() {
	cfg := config.Load()
	env := &environment{
		cfg:    cfg,
		logger: applog.New(cfg.LogLevel, cfg.LogFormat),
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	env.ctx = ctx

	parser := flags.NewParser(nil, flags.Default)
	parser.ShortDescription = "InboxJanitor maintenance commands"

	commands := []struct {
		name, short, long string
		data              any
	}{
		{"migrate", "Apply database migrations", "Apply every pending database migration and exit.", &migrateCommand{env: env}},
		{"sync", "Sync mailbox metadata", "Run resumable sync invocations until the account is fully mirrored.", &syncCommand{env: env}},
		{"status", "Show sync progress", "Print the latest sync run of an account.", &statusCommand{env: env}},
		{"classify", "Suggest deletions", "Classify synced messages and mark delete candidates.", &classifyCommand{env: env}},
		{"run", "Sync then classify", "Sync the account to completion, then classify it.", &runCommand{env: env}},
		{"token", "Issue an API token", "Issue a signed bearer token for local testing.", &tokenCommand{env: env}},
	}
	for _, cmd := range commands {
		if _, err := parser.AddCommand(cmd.name, cmd.short, cmd.long, cmd.data); err != nil {
			env.logger.WithError(err).Fatal("[CLI] Failed to register command")
		}
	}

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		// flags.Default already printed the error
		os.Exit(1)
	}
}
