package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ProviderSender sends through the transactional-email provider's REST API.
type ProviderSender struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	fromEmail string
	fromName  string
}

type ProviderConfig struct {
	BaseURL   string
	APIKey    string
	FromEmail string
	FromName  string
}

func NewProviderSender(cfg ProviderConfig) *ProviderSender {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.brevo.com/v3"
	}
	fromEmail := strings.TrimSpace(cfg.FromEmail)
	if fromEmail == "" {
		fromEmail = "no-reply@beautyon.app"
	}
	return &ProviderSender{
		client:    &http.Client{Timeout: 10 * time.Second},
		baseURL:   baseURL,
		apiKey:    strings.TrimSpace(cfg.APIKey),
		fromEmail: fromEmail,
		fromName:  strings.TrimSpace(cfg.FromName),
	}
}

var _ Sender = (*ProviderSender)(nil)

func (s *ProviderSender) Send(ctx context.Context, msg Message) (string, error) {
	body, err := json.Marshal(map[string]any{
		"sender": map[string]string{
			"email": s.fromEmail,
			"name":  s.fromName,
		},
		"to": []map[string]string{
			{"email": msg.To},
		},
		"subject":     msg.Subject,
		"htmlContent": msg.HTMLContent,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/smtp/email", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("email provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out struct {
		MessageID string `json:"messageId"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		// The send succeeded even if the body is odd; keep going without an id.
		return "", nil
	}
	return out.MessageID, nil
}
