// Package notify delivers terminal sync summaries to a Discord webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zykor/barsync/internal/domain"
	"github.com/zykor/barsync/internal/pkg/httpretry"
)

// DiscordNotifier implements pipeline.Notifier by posting one embed per
// finished job to a Discord-compatible webhook URL.
type DiscordNotifier struct {
	webhookURL string
	httpClient httpretry.HTTPDoer
}

// NewDiscordNotifier creates a notifier for the given webhook URL.
func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: webhookURL,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: 15 * time.Second,
		}, 2),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing).
func (n *DiscordNotifier) SetHTTPClient(client httpretry.HTTPDoer) {
	n.httpClient = client
}

type discordEmbed struct {
	Title  string       `json:"title"`
	Color  int          `json:"color"`
	Fields []embedField `json:"fields"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordMessage struct {
	Content string         `json:"content"`
	Embeds  []discordEmbed `json:"embeds"`
}

const (
	colorGreen = 0x2ecc71
	colorRed   = 0xe74c3c
)

// JobFinished implements pipeline.Notifier.
func (n *DiscordNotifier) JobFinished(ctx context.Context, job *domain.BatchJob, summary domain.SyncSummary) error {
	color := colorGreen
	title := fmt.Sprintf("Sync %s for bar %d", summary.Status, summary.BarID)
	if summary.Status == domain.StatusFailed {
		color = colorRed
	}

	fields := []embedField{
		{Name: "Mode", Value: summary.Mode, Inline: true},
		{Name: "Periods", Value: fmt.Sprintf("%d", summary.PeriodsProcessed), Inline: true},
		{Name: "Collected", Value: fmt.Sprintf("%d", summary.TotalCollected), Inline: true},
		{Name: "Inserted", Value: fmt.Sprintf("%d", summary.TotalInserted), Inline: true},
		{Name: "Errors", Value: fmt.Sprintf("%d", summary.TotalErrors), Inline: true},
		{Name: "Duration", Value: fmt.Sprintf("%.1fs", summary.DurationSeconds), Inline: true},
	}
	if summary.LastPeriodWithData != "" {
		fields = append(fields, embedField{Name: "Last period with data", Value: summary.LastPeriodWithData, Inline: true})
	}
	if job.Error != "" {
		fields = append(fields, embedField{Name: "Error", Value: job.Error})
	}

	body, err := json.Marshal(discordMessage{
		Embeds: []discordEmbed{{Title: title, Color: color, Fields: fields}},
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook status %d", resp.StatusCode)
	}
	return nil
}
