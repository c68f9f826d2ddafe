package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/irfndi/celebrum-quant/internal/config"
	"github.com/irfndi/celebrum-quant/internal/logging"
	"github.com/irfndi/celebrum-quant/internal/models"
	"github.com/irfndi/celebrum-quant/internal/telemetry"
)

type MockMessageSender struct {
	mock.Mock
}

func (m *MockMessageSender) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	args := m.Called(ctx, params)
	if msg, ok := args.Get(0).(*tgmodels.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}

func quietLogger() logging.Logger {
	return logging.NewStandardLoggerWithWriter(io.Discard, "error")
}

func TestNewNotificationService_DisabledWithoutConfig(t *testing.T) {
	tests := []struct {
		name   string
		tg     config.TelegramConfig
		alerts config.AlertsConfig
	}{
		{"alerts disabled", config.TelegramConfig{BotToken: "token"}, config.AlertsConfig{Enabled: false, ChatID: "1"}},
		{"no token", config.TelegramConfig{}, config.AlertsConfig{Enabled: true, ChatID: "1"}},
		{"no chat", config.TelegramConfig{BotToken: "token"}, config.AlertsConfig{Enabled: true}},
		{"bad chat id", config.TelegramConfig{BotToken: "token"}, config.AlertsConfig{Enabled: true, ChatID: "chat"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ns := NewNotificationService(tt.tg, tt.alerts, nil, quietLogger())
			assert.False(t, ns.Enabled())
			assert.NoError(t, ns.NotifySpreadSignal(context.Background(), SpreadAlert{PairID: "p"}))
		})
	}
}

func TestNotificationService_NotifySpreadSignal(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	sender := &MockMessageSender{}
	ns := NewNotificationServiceWithSender(sender, 4242, telemetry.NewBusinessTracerWithTracer(tp.Tracer("test")), quietLogger())

	sender.On("SendMessage", mock.Anything, mock.MatchedBy(func(p *bot.SendMessageParams) bool {
		return p.ChatID == int64(4242) &&
			p.ParseMode == tgmodels.ParseModeMarkdown &&
			strings.Contains(p.Text, "Short Spread") &&
			strings.Contains(p.Text, "BTC/USDT / ETH/USDT") &&
			strings.Contains(p.Text, "2.31") &&
			strings.Contains(p.Text, "1.7500")
	})).Return(&tgmodels.Message{ID: 1}, nil).Once()

	err := ns.NotifySpreadSignal(context.Background(), SpreadAlert{
		PairID:    "btc-eth",
		Symbols:   []string{"BTC/USDT", "ETH/USDT"},
		Signal:    models.SignalShortSpread,
		ZScore:    2.314,
		Spread:    0.0123,
		Betas:     []float64{1.75},
		Timestamp: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	sender.AssertExpectations(t)

	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, "notification", recorder.Ended()[0].Name())
}

func TestNotificationService_SendFailure(t *testing.T) {
	sender := &MockMessageSender{}
	ns := NewNotificationServiceWithSender(sender, 1, nil, quietLogger())
	sender.On("SendMessage", mock.Anything, mock.Anything).Return(nil, errors.New("Too Many Requests"))

	err := ns.NotifySpreadSignal(context.Background(), SpreadAlert{PairID: "p", Signal: models.SignalExit})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Too Many Requests")
}

func TestNotificationService_FormatHeaders(t *testing.T) {
	ns := NewNotificationServiceWithSender(nil, 0, nil, quietLogger())

	assert.Contains(t, ns.formatSpreadAlert(SpreadAlert{Signal: models.SignalLongSpread}), "Buy The Spread")
	assert.Contains(t, ns.formatSpreadAlert(SpreadAlert{Signal: models.SignalExit}), "Close Position")
	msg := ns.formatSpreadAlert(SpreadAlert{PairID: "x", Signal: models.SignalHold})
	assert.Contains(t, msg, "*Signal:* Hold")
	assert.NotContains(t, msg, "Hedge Ratio")
	assert.NotContains(t, msg, "UTC")
}

func TestNotificationService_BreakerStopsSending(t *testing.T) {
	sender := &MockMessageSender{}
	ns := NewNotificationServiceWithSender(sender, 1, nil, quietLogger())
	sender.On("SendMessage", mock.Anything, mock.Anything).Return(nil, errors.New("Bad Gateway")).Times(5)

	alert := SpreadAlert{PairID: "p", Signal: models.SignalLongSpread}
	for i := 0; i < 5; i++ {
		require.Error(t, ns.NotifySpreadSignal(context.Background(), alert))
	}
	err := ns.NotifySpreadSignal(context.Background(), alert)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	sender.AssertNumberOfCalls(t, "SendMessage", 5)
	assert.Equal(t, "open", ns.DeliveryStats().State)
}
