package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/takopihq/takopi/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Run the interactive setup wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isInteractive() {
				return errors.New("onboarding requires a TTY")
			}
			path, err := config.DefaultPath()
			if err != nil {
				return err
			}
			return runOnboardWizard(path)
		},
	}
}

// runOnboardWizard collects the minimum working config and writes it.
// Existing values are kept as form defaults, so re-running is safe.
func runOnboardWizard(path string) error {
	cfg, err := config.Load(path)
	if errors.Is(err, config.ErrNotFound) {
		cfg = &config.Config{Path: path}
	} else if err != nil {
		return err
	}

	token := cfg.Transports.Telegram.BotToken
	chatID := ""
	if cfg.Transports.Telegram.ChatID != 0 {
		chatID = strconv.FormatInt(cfg.Transports.Telegram.ChatID, 10)
	}
	engineID := cfg.DefaultEngine
	if engineID == "" {
		engineID = "codex"
	}
	topics := cfg.Transports.Telegram.Topics.Enabled
	files := cfg.Transports.Telegram.Files.Enabled

	engineOptions := make([]string, 0, 2)
	for _, id := range engineCommandIDs() {
		engineOptions = append(engineOptions, string(id))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram bot token").
				Description("from @BotFather; leave empty to use the TELEGRAM_BOT_TOKEN env var").
				EchoMode(huh.EchoModePassword).
				Value(&token),
			huh.NewInput().
				Title("Main chat id").
				Description("the chat takopi answers in (negative for groups)").
				Validate(func(s string) error {
					s = strings.TrimSpace(s)
					if s == "" {
						return nil
					}
					if _, err := strconv.ParseInt(s, 10, 64); err != nil {
						return errors.New("must be an integer")
					}
					return nil
				}).
				Value(&chatID),
			huh.NewSelect[string]().
				Title("Default engine").
				Options(huh.NewOptions(engineOptions...)...).
				Value(&engineID),
			huh.NewConfirm().
				Title("Enable forum topics?").
				Value(&topics),
			huh.NewConfirm().
				Title("Enable file transfer?").
				Value(&files),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.Transport = "telegram"
	cfg.DefaultEngine = engineID
	cfg.Transports.Telegram.BotToken = strings.TrimSpace(token)
	if s := strings.TrimSpace(chatID); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		cfg.Transports.Telegram.ChatID = id
	}
	cfg.Transports.Telegram.Topics.Enabled = topics
	cfg.Transports.Telegram.Files.Enabled = files

	if err := cfg.Save(); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", displayPath(path))
	return nil
}
