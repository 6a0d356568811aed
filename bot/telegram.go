package bot

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/trapline/traphound/core"
	"github.com/trapline/traphound/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM CONTROL SURFACE
// ═══════════════════════════════════════════════════════════════════════════════

// StatusProvider exposes the engine snapshot for the /status command.
type StatusProvider interface {
	Status() core.Status
}

// Bot pushes bet and settlement alerts and answers status commands. A nil
// *Bot is safe to use everywhere: all methods no-op.
type Bot struct {
	api      *tgbotapi.BotAPI
	chatID   int64
	provider StatusProvider
	stopCh   chan struct{}
}

// New connects to Telegram. Returns nil (and no error) when token is empty,
// so the engine runs without notifications.
func New(token string, chatID int64, provider StatusProvider) (*Bot, error) {
	if token == "" {
		log.Info().Msg("No TELEGRAM_TOKEN set - notifications disabled")
		return nil, nil
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("bot: connect: %w", err)
	}

	log.Info().Str("username", api.Self.UserName).Msg("Telegram bot connected")
	return &Bot{
		api:      api,
		chatID:   chatID,
		provider: provider,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins polling for commands.
func (b *Bot) Start() {
	if b == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update := <-updates:
				if update.Message != nil && update.Message.IsCommand() {
					b.handleCommand(update.Message)
				}
			case <-b.stopCh:
				return
			}
		}
	}()
}

// Stop halts command polling.
func (b *Bot) Stop() {
	if b == nil {
		return
	}
	b.api.StopReceivingUpdates()
	close(b.stopCh)
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "status":
		b.send(b.formatStatus())
	case "stats":
		b.send(b.formatStats())
	case "help":
		b.send("Commands:\n/status - engine state\n/stats - session performance\n/help - this message")
	default:
		b.send("Unknown command. Try /help")
	}
}

func (b *Bot) formatStatus() string {
	s := b.provider.Status()
	mode := "LIVE"
	if s.DryRun {
		mode = "DRY RUN"
	}
	return fmt.Sprintf(
		"🐕 Traphound %s\nSession: %s\nUptime: %s\nScans: %d\nTimers armed: %d\nAwaiting results: %d",
		mode, s.SessionID, time.Since(s.StartedAt).Round(time.Second), s.Scans, s.ScheduledTimers, s.AwaitingResults)
}

func (b *Bot) formatStats() string {
	s := b.provider.Status().Stats
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Session stats\nRaces: %d\nPredictions: %d\nBets: %d\n", s.Races, s.Predictions, s.Bets)
	fmt.Fprintf(&sb, "Settled: %d (won %d)\nProfit: %s", s.Settlements, s.BetsWon, s.Profit.StringFixed(2))
	return sb.String()
}

// NotifyBet implements core.Notifier.
func (b *Bot) NotifyBet(bet *types.BetRecord) {
	if b == nil {
		return
	}
	mode := ""
	if bet.DryRun {
		mode = " (dry run)"
	}
	go b.send(fmt.Sprintf("🎯 Bet placed%s\n%s @ %s\nStake: %s | %s\n%s %s",
		mode, bet.RunnerName, bet.Odds.String(), bet.Stake.StringFixed(2), bet.Subtype,
		bet.Venue, bet.StartTime.Format("15:04")))
}

// NotifySettlement implements core.Notifier.
func (b *Bot) NotifySettlement(bet *types.BetRecord) {
	if b == nil {
		return
	}
	icon := "❌ Lost"
	if bet.Won {
		icon = "✅ Won"
	}
	go b.send(fmt.Sprintf("%s: %s @ %s\nProfit: %s",
		icon, bet.RunnerName, bet.Odds.String(), bet.Profit.StringFixed(2)))
}

func (b *Bot) send(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Warn().Err(err).Msg("Telegram send failed")
	}
}
