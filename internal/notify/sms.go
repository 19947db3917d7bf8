package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/zekehq/zeke-agent/internal/httpkit"
)

// SMSGateway sends texts through an HTTP SMS relay (the kind a
// household runs against their carrier or a hosted provider). The
// relay accepts a JSON POST and returns 2xx on acceptance.
type SMSGateway struct {
	url        string
	token      string
	from       string
	adminPhone string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSMSGateway creates a gateway client. adminPhone is where
// NotifyUser messages go.
func NewSMSGateway(url, token, from, adminPhone string, logger *slog.Logger) *SMSGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMSGateway{
		url:        url,
		token:      token,
		from:       from,
		adminPhone: adminPhone,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15*time.Second),
			httpkit.WithRetry(2, 2*time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger.With("component", "notify"),
	}
}

type smsRequest struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
}

// SendSMS posts one message to the relay.
func (g *SMSGateway) SendSMS(ctx context.Context, phone, message, source string) error {
	if phone == "" {
		return fmt.Errorf("empty phone number")
	}

	body, err := json.Marshal(smsRequest{To: phone, From: g.from, Message: message, Source: source})
	if err != nil {
		return fmt.Errorf("marshal sms: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway returned %d: %s",
			resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	g.logger.Info("sms sent", "to", phone, "source", source, "chars", len(message))
	return nil
}

// NotifyUser texts the admin phone.
func (g *SMSGateway) NotifyUser(ctx context.Context, message string) error {
	if g.adminPhone == "" {
		return fmt.Errorf("no admin phone configured")
	}
	return g.SendSMS(ctx, g.adminPhone, message, "zeke")
}
