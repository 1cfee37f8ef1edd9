package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tao-supply-stats/internal/normalize"
)

// Notification summarises a finished pipeline run.
type Notification struct {
	RunID        string
	FinishedAt   time.Time
	FetchStatus  string
	Observations int
	Priced       int
	Latest       *normalize.Observation
	Degraded     []string
	DatasetPath  string
	ChartPath    string
}

// Notifier delivers run reports.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier posts run reports through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "notifier_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered report.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("run_id", note.RunID).
		Str("fetch_status", note.FetchStatus).
		Msg("run report sent (telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[TAO Supply Stats]\n")
	builder.WriteString(fmt.Sprintf("Run: %s\n", note.RunID))
	builder.WriteString(fmt.Sprintf("Finished: %s UTC\n", note.FinishedAt.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Fetch: %s, %d observations (%d priced)\n", note.FetchStatus, note.Observations, note.Priced))
	if o := note.Latest; o != nil {
		builder.WriteString(fmt.Sprintf("Latest: %s\n", o.Timestamp.UTC().Format("2006-01-02")))
		builder.WriteString(fmt.Sprintf("Supply: %s TAO\n", o.IssuedTAO.StringFixed(2)))
		builder.WriteString(fmt.Sprintf("Staked: %s TAO (%s%%)\n", o.StakedTAO.StringFixed(2), o.StakedPercentage.StringFixed(2)))
		builder.WriteString(fmt.Sprintf("Circulating: %s TAO\n", o.CirculatingTAO.StringFixed(2)))
		if o.USD != nil {
			builder.WriteString(fmt.Sprintf("Price: $%s\n", o.USD.PriceUSD.StringFixed(2)))
			builder.WriteString(fmt.Sprintf("Market cap: $%s\n", o.USD.TotalMarketCapUSD.StringFixed(0)))
		}
	}
	for _, d := range note.Degraded {
		builder.WriteString(fmt.Sprintf("Warning: %s\n", d))
	}
	if note.DatasetPath != "" {
		builder.WriteString(fmt.Sprintf("Dataset: %s\n", note.DatasetPath))
	}
	if note.ChartPath != "" {
		builder.WriteString(fmt.Sprintf("Chart: %s\n", note.ChartPath))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
