package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// 支持的 webhook 消息格式。
const (
	FormatJSON     = "json"
	FormatSlack    = "slack"
	FormatDingTalk = "dingtalk"
)

// WebhookNotifier 以 HTTP POST 投递告警，兼容 Slack 与钉钉机器人的消息格式。
type WebhookNotifier struct {
	URL    string
	Format string
	Client *http.Client
}

// Channel 返回 webhook 渠道。
func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Notify 发送告警。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.URL == "" {
		return fmt.Errorf("webhook 地址未配置")
	}
	body, err := n.payload(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造 webhook 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送 webhook 失败: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook 返回状态码 %d", resp.StatusCode)
	}
	return nil
}

func (n *WebhookNotifier) payload(event Event) ([]byte, error) {
	summary := fmt.Sprintf("[%s] %s\n交易: %s\n重试: %d/%d\n%s",
		event.Severity, event.Code, event.TxID, event.Attempts, event.MaxRetries, event.Message)
	var v any
	switch n.Format {
	case FormatSlack:
		v = map[string]string{"text": summary}
	case FormatDingTalk:
		v = map[string]any{"msgtype": "text", "text": map[string]string{"content": summary}}
	case "", FormatJSON:
		v = event
	default:
		return nil, fmt.Errorf("未知的 webhook 格式 %q", n.Format)
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("序列化告警失败: %w", err)
	}
	return body, nil
}
