package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tao-supply-stats/internal/normalize"
)

func sampleNote() Notification {
	latest := normalize.Observation{
		Timestamp:        time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		IssuedTAO:        decimal.NewFromInt(7_000_000),
		StakedTAO:        decimal.NewFromInt(5_000_000),
		CirculatingTAO:   decimal.NewFromInt(2_000_000),
		StakedPercentage: decimal.RequireFromString("71.428571"),
	}
	latest.USD = normalize.NewUSDMetrics(latest, decimal.NewFromInt(400))
	return Notification{
		RunID:        "run-1",
		FinishedAt:   time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		FetchStatus:  "partial",
		Observations: 10,
		Priced:       9,
		Latest:       &latest,
		Degraded:     []string{"partial history"},
		DatasetPath:  "tao_staking_data_20240601_120000.csv",
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Errorf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote()); err != nil {
		t.Fatalf("telegram notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("unexpected chat_id: %#v", received)
	}
	if received["text"] == "" {
		t.Fatalf("text should not be empty")
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote()); err == nil {
		t.Fatal("ok=false should be an error")
	}
}

func TestRenderMessage(t *testing.T) {
	msg := renderMessage(sampleNote())
	for _, want := range []string{
		"Run: run-1",
		"Fetch: partial, 10 observations (9 priced)",
		"Staked: 5000000.00 TAO (71.43%)",
		"Price: $400.00",
		"Market cap: $2800000000",
		"Warning: partial history",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}

	note := sampleNote()
	note.Latest.USD = nil
	if strings.Contains(renderMessage(note), "Price:") {
		t.Fatal("unpriced observation must not render a price")
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
