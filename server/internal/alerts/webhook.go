package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/obsidianstack/prioritymq/server/internal/config"
	"github.com/obsidianstack/prioritymq/server/internal/store"
)

// notification is one alert transition together with the queue statistics
// that triggered it.
type notification struct {
	Alert *Alert      `json:"alert"`
	Queue store.Stats `json:"queue"`
}

// deliver posts n to every target. Failures are logged per target and
// never stop delivery to the rest.
func (e *Engine) deliver(ctx context.Context, hooks []config.WebhookConfig, n notification) {
	for _, wh := range hooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var body any
		switch wh.Type {
		case "slack":
			body = slackPayload(n)
		case "teams":
			body = teamsPayload(n)
		case "http":
			body = n
		default:
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err := e.post(ctx, url, body); err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type,
				"rule", n.Alert.RuleName,
				"err", err,
			)
			continue
		}
		slog.Debug("alerts: webhook delivered",
			"type", wh.Type,
			"rule", n.Alert.RuleName,
			"state", n.Alert.State,
		)
	}
}

// queueFacts renders the statistics as ordered label/value pairs for chat
// cards.
func queueFacts(s store.Stats) [][2]string {
	watermark := "none"
	if s.HasWatermark {
		watermark = strconv.FormatInt(s.Watermark, 10)
	}
	facts := [][2]string{
		{"Depth", strconv.Itoa(s.Depth)},
		{"Watermark", watermark},
		{"Admitted", strconv.FormatUint(s.Admitted, 10)},
		{"Popped", strconv.FormatUint(s.Popped, 10)},
	}
	var rejected []string
	for _, r := range store.Reasons {
		if v := s.Rejected[r.String()]; v > 0 {
			rejected = append(rejected, fmt.Sprintf("%s=%d", r, v))
		}
	}
	if len(rejected) == 0 {
		rejected = []string{"0"}
	}
	return append(facts, [2]string{"Rejected", strings.Join(rejected, " ")})
}

func slackPayload(n notification) map[string]any {
	fields := make([]map[string]any, 0, 5)
	for _, f := range queueFacts(n.Queue) {
		fields = append(fields, map[string]any{"title": f[0], "value": f[1], "short": true})
	}
	return map[string]any{
		"text": fmt.Sprintf("*%s* %s", severityLabel(n.Alert.Severity), n.Alert.Message),
		"attachments": []map[string]any{{
			"color":  "#" + severityColor(n.Alert.Severity),
			"fields": fields,
		}},
	}
}

func teamsPayload(n notification) map[string]any {
	facts := make([]map[string]string, 0, 5)
	for _, f := range queueFacts(n.Queue) {
		facts = append(facts, map[string]string{"name": f[0], "value": f[1]})
	}
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(n.Alert.Severity),
		"summary":    n.Alert.RuleName,
		"title":      fmt.Sprintf("prioritymq %s: %s", n.Alert.State, n.Alert.RuleName),
		"text":       n.Alert.Message,
		"sections":   []map[string]any{{"facts": facts}},
	}
}

func (e *Engine) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s string) string {
	switch s {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
