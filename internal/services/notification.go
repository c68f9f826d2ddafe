package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/irfndi/celebrum-quant/internal/config"
	"github.com/irfndi/celebrum-quant/internal/logging"
	"github.com/irfndi/celebrum-quant/internal/models"
	"github.com/irfndi/celebrum-quant/internal/telemetry"
)

// MessageSender is the part of the Telegram bot used for alerts.
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// SpreadAlert describes a spread entering or leaving a position band.
type SpreadAlert struct {
	PairID    string
	Symbols   []string
	Signal    models.SpreadSignal
	ZScore    float64
	Spread    float64
	Betas     []float64
	Timestamp time.Time
}

// NotificationService formats spread signals and sends them to a single
// Telegram chat through a MessageSender.
type NotificationService struct {
	sender  MessageSender
	chatID  int64
	tracer  *telemetry.BusinessTracer
	logger  logging.Logger
	caser   cases.Caser
	breaker *CircuitBreaker
}

// NewNotificationService builds a Telegram notifier. Without a bot token, an
// enabled alerts section and a chat id it returns a notifier that drops alerts.
func NewNotificationService(tg config.TelegramConfig, alerts config.AlertsConfig, tracer *telemetry.BusinessTracer, logger logging.Logger) *NotificationService {
	if logger == nil {
		logger = logging.NewStandardLogger("info")
	}
	if !alerts.Enabled || tg.BotToken == "" || alerts.ChatID == "" {
		return NewNotificationServiceWithSender(nil, 0, tracer, logger)
	}

	chatID, err := strconv.ParseInt(alerts.ChatID, 10, 64)
	if err != nil {
		logger.WithError(err).Warn("invalid alerts chat id, spread alerts disabled")
		return NewNotificationServiceWithSender(nil, 0, tracer, logger)
	}
	telegramBot, err := bot.New(tg.BotToken)
	if err != nil {
		logger.WithError(err).Warn("failed to initialize telegram bot, spread alerts disabled")
		return NewNotificationServiceWithSender(nil, 0, tracer, logger)
	}
	return NewNotificationServiceWithSender(telegramBot, chatID, tracer, logger)
}

// NewNotificationServiceWithSender builds a notifier over any sender.
func NewNotificationServiceWithSender(sender MessageSender, chatID int64, tracer *telemetry.BusinessTracer, logger logging.Logger) *NotificationService {
	if tracer == nil {
		tracer = telemetry.NewBusinessTracer()
	}
	if logger == nil {
		logger = logging.NewStandardLogger("info")
	}
	return &NotificationService{
		sender:  sender,
		chatID:  chatID,
		tracer:  tracer,
		logger:  logger,
		caser:   cases.Title(language.English),
		breaker: NewCircuitBreaker("telegram", CircuitBreakerConfig{FailureThreshold: 5, Timeout: time.Minute}, logger),
	}
}

// Enabled reports whether alerts are delivered.
func (ns *NotificationService) Enabled() bool {
	return ns.sender != nil
}

// NotifySpreadSignal sends one spread alert to the configured chat.
func (ns *NotificationService) NotifySpreadSignal(ctx context.Context, alert SpreadAlert) error {
	if ns.sender == nil {
		return nil
	}

	ctx, span := ns.tracer.TraceNotification(ctx, "spread_signal", "telegram")
	defer span.End()

	params := &bot.SendMessageParams{
		ChatID:    ns.chatID,
		Text:      ns.formatSpreadAlert(alert),
		ParseMode: tgmodels.ParseModeMarkdown,
	}
	err := ns.breaker.Execute(ctx, func(ctx context.Context) error {
		_, err := ns.sender.SendMessage(ctx, params)
		return err
	})
	if err != nil {
		err = fmt.Errorf("failed to send telegram message: %w", err)
	}
	telemetry.RecordError(span, err)
	return err
}

// DeliveryStats reports the state of the Telegram circuit breaker.
func (ns *NotificationService) DeliveryStats() CircuitBreakerStats {
	return ns.breaker.Stats()
}

func (ns *NotificationService) formatSpreadAlert(alert SpreadAlert) string {
	var b strings.Builder

	header := "📊 *Spread Signal*"
	switch alert.Signal {
	case models.SignalShortSpread:
		header = "🔻 *Spread Rich: Sell The Spread*"
	case models.SignalLongSpread:
		header = "🔺 *Spread Cheap: Buy The Spread*"
	case models.SignalExit:
		header = "✅ *Spread Reverted: Close Position*"
	}
	b.WriteString(header + "\n\n")

	fmt.Fprintf(&b, "🔗 *Pair:* %s\n", alert.PairID)
	if len(alert.Symbols) > 0 {
		fmt.Fprintf(&b, "💱 *Symbols:* %s\n", strings.Join(alert.Symbols, " / "))
	}
	fmt.Fprintf(&b, "🎯 *Signal:* %s\n", ns.caser.String(strings.ReplaceAll(string(alert.Signal), "_", " ")))
	fmt.Fprintf(&b, "📏 *Z-Score:* %.2f\n", alert.ZScore)
	fmt.Fprintf(&b, "📉 *Spread:* %.6f\n", alert.Spread)
	if len(alert.Betas) > 0 {
		parts := make([]string, len(alert.Betas))
		for i, beta := range alert.Betas {
			parts[i] = strconv.FormatFloat(beta, 'f', 4, 64)
		}
		fmt.Fprintf(&b, "⚖️ *Hedge Ratio:* %s\n", strings.Join(parts, ", "))
	}
	if !alert.Timestamp.IsZero() {
		fmt.Fprintf(&b, "\n⏰ %s", alert.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
	return b.String()
}
