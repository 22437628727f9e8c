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
	"github.com/shopspring/decimal"
)

// Role 区分两类收件人：客户经理本人与其客户。
type Role string

const (
	RoleOwner  Role = "owner"
	RoleClient Role = "client"
)

// TemplateData 封装渲染告警文案所需的上下文。
type TemplateData struct {
	ClientName     string
	SeriesLabel    string
	ObservedRate   decimal.Decimal
	TargetRate     decimal.Decimal
	MonthlySavings decimal.Decimal
	OwnerName      string
	OwnerEmail     string
	OwnerPhone     string
	ActionURL      string
}

// Message is one outbound notification addressed to a single recipient.
type Message struct {
	Role      Role
	Recipient string
	Data      TemplateData
}

// Sink 定义告警输送接口。
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// HTTPSink 通过外部消息网关推送告警。
type HTTPSink struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewHTTPSink 构造消息网关客户端。
func NewHTTPSink(baseURL, apiKey string, timeout time.Duration, logger zerolog.Logger) *HTTPSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTPSink{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "alert_sink").Logger(),
	}
}

// Send 调用网关 /messages 接口推送一条消息。
func (s *HTTPSink) Send(ctx context.Context, msg Message) error {
	if msg.Recipient == "" {
		return fmt.Errorf("message recipient is empty")
	}

	payload := map[string]string{
		"to":      msg.Recipient,
		"subject": renderSubject(msg),
		"body":    renderBody(msg),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sink payload: %w", err)
	}

	url := s.baseURL + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create sink request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sink request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("消息网关响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("消息网关返回 ok=false")
		}
	}

	s.logger.Info().
		Str("role", string(msg.Role)).
		Str("series", msg.Data.SeriesLabel).
		Msg("告警已发送")
	return nil
}

var _ Sink = (*HTTPSink)(nil)
