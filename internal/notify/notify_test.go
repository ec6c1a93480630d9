package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

type stubSender struct {
	name   string
	err    error
	titles []string
}

func (s *stubSender) Send(_ context.Context, title, _ string) error {
	s.titles = append(s.titles, title)
	return s.err
}

func (s *stubSender) Name() string { return s.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func sampleOutcome() domain.TradeOutcome {
	o := domain.TradeOutcome{
		ID: "01HZX",
		Intent: domain.PositionIntent{
			BaseVenue: "binance", QuoteVenue: "bybit", Instrument: "BTC/USDT", NotionalUSD: 100,
		},
		ReferencePrice: 100,
		Quantity:       1,
		Long:           domain.LegResult{Leg: domain.LegLong, Venue: "binance", Side: domain.OrderSideBuy, RequestedQuantity: 1, FilledQuantity: 1, AveragePrice: 99, Status: domain.LegFilled},
		Short:          domain.LegResult{Leg: domain.LegShort, Venue: "bybit", Side: domain.OrderSideSell, RequestedQuantity: 1, Status: domain.LegRejected},
		Status:         domain.TradePartiallyOpened,
	}
	o.AddDiagnostic(domain.ErrOneLegRejected, domain.LegShort, "", "short leg on bybit rejected")
	return o
}

func TestNotifyFiltersEvents(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, []string{EventTradeFailed}, discard())

	require.NoError(t, n.Notify(context.Background(), EventCredential, "ignored", ""))
	require.NoError(t, n.Notify(context.Background(), EventTradeFailed, "sent", ""))
	assert.Equal(t, []string{"sent"}, s.titles)
}

func TestNotifyContinuesPastFailures(t *testing.T) {
	boom := errors.New("boom")
	bad := &stubSender{name: "bad", err: boom}
	good := &stubSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), EventTradeCompleted, "t", "m")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, good.titles, 1)
}

func TestNilNotifierIsDisabled(t *testing.T) {
	var n *Notifier
	assert.False(t, n.Enabled())
	assert.NoError(t, n.NotifyOutcome(context.Background(), sampleOutcome()))
}

func TestFormatOutcome(t *testing.T) {
	o := sampleOutcome()
	assert.Equal(t, "BTC/USDT binance/bybit: PartiallyOpened", OutcomeTitle(o))

	text := FormatOutcome(o)
	assert.Contains(t, text, "long on binance: buy 1/1 @ 99 [Filled]")
	assert.Contains(t, text, "short on bybit: sell 0/1 @ 0 [Rejected]")
	assert.Contains(t, text, "short leg on bybit rejected")
	assert.False(t, strings.HasSuffix(text, "\n"))
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL, "TOKEN", "42")
	require.NoError(t, s.Send(context.Background(), "a<b", "x & y"))
	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, "<b>a&lt;b</b>\n<pre>x &amp; y</pre>", got["text"])
}

func TestDiscordSender(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		var got map[string]string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "title", strings.Repeat("x", 3000)))
		assert.LessOrEqual(t, len(got["content"]), discordLimit)
		assert.True(t, strings.HasPrefix(got["content"], "**title**\n```"))
	})

	t.Run("error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, "bad webhook")
		}))
		defer srv.Close()

		err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad webhook")
	})
}
