package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"

	"github.com/telegent/telegent/internal/notify"
	"github.com/telegent/telegent/internal/relay"
	"github.com/telegent/telegent/internal/tmux"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the relay (also the default command)",
		RunE:  runRelay,
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := tmux.NewClient()
	if err := client.EnsureInstalled(); err != nil {
		return err
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("telegram auth: %w", err)
	}

	termCfg := tmux.DefaultConfig()
	if cfg.Tmux.Cols > 0 {
		termCfg.Cols = cfg.Tmux.Cols
	}
	if cfg.Tmux.Rows > 0 {
		termCfg.Rows = cfg.Tmux.Rows
	}
	term := tmux.NewSession(client, cfg.Tmux.SessionName, cfg.Tmux.PipeFile, termCfg)

	notifier := notify.New(cfg.Notifications)
	bot := relay.New(api, term, cfg, notifier)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := api.GetUpdatesChan(u)

	log.Printf("telegent: relay started, session %s, chat %d", cfg.Tmux.SessionName, cfg.ChatID)
	return bot.Run(ctx, updates)
}
