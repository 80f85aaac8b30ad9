package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/pavelanni/assessor/internal/model"
)

const maxFieldValue = 1024

// Webhook posts Discord-compatible messages to a webhook URL.
type Webhook struct {
	url    string
	title  string
	client *http.Client
}

// NewWebhook creates a webhook sink. title prefixes every message.
func NewWebhook(url, title string, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if title == "" {
		title = "Assessment Alert"
	}
	return &Webhook{url: url, title: title, client: client}
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embed struct {
	Title     string       `json:"title"`
	Color     int          `json:"color"`
	Fields    []embedField `json:"fields"`
	Timestamp string       `json:"timestamp"`
}

type webhookMessage struct {
	Content string  `json:"content"`
	Embeds  []embed `json:"embeds"`
}

func severityColor(s model.Severity) int {
	switch s {
	case model.SeverityHigh:
		return 0xff0000
	case model.SeverityLow:
		return 0xffa500
	default:
		return 0x3498db
	}
}

func (w *Webhook) message(a model.Alert) webhookMessage {
	candidate := a.Candidate
	if candidate == "" {
		candidate = "Unknown"
	}
	fields := []embedField{
		{Name: "Alert Type", Value: string(a.Kind), Inline: true},
		{Name: "Candidate", Value: candidate, Inline: true},
		{Name: "Session", Value: a.SessionID, Inline: true},
		{Name: "Severity", Value: string(a.Severity), Inline: true},
	}
	keys := make([]string, 0, len(a.Payload))
	for k := range a.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, embedField{Name: k, Value: truncate(fmt.Sprint(a.Payload[k]), maxFieldValue)})
	}
	return webhookMessage{
		Content: fmt.Sprintf("**%s** - %s", w.title, a.Kind),
		Embeds: []embed{{
			Title:     "Security Alert",
			Color:     severityColor(a.Severity),
			Fields:    fields,
			Timestamp: a.Timestamp.Format(time.RFC3339),
		}},
	}
}

// Notify implements Notifier.
func (w *Webhook) Notify(ctx context.Context, a model.Alert) error {
	body, err := json.Marshal(w.message(a))
	if err != nil {
		return fmt.Errorf("marshal webhook message: %w", err)
	}
	return w.post(ctx, "application/json", bytes.NewReader(body))
}

// Deliver posts the alert with the report attached as a file.
func (w *Webhook) Deliver(ctx context.Context, a model.Alert, doc model.Document) error {
	payload, err := json.Marshal(w.message(a))
	if err != nil {
		return fmt.Errorf("marshal webhook message: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("payload_json", string(payload)); err != nil {
		return fmt.Errorf("write payload field: %w", err)
	}
	part, err := mw.CreateFormFile("files[0]", doc.Filename)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.WriteString(part, doc.Body); err != nil {
		return fmt.Errorf("write file part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}
	return w.post(ctx, mw.FormDataContentType(), &buf)
}

func (w *Webhook) post(ctx context.Context, contentType string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, body)
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
