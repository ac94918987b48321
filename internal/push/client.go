package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"social-go/internal/config"
	"social-go/internal/models"
)

// Client 是推送网关旁路通道的出站 HTTP 客户端接口。
// 通知 fan-out 在实时树写入之外额外尝试这条 REST 通道；
// 它的失败永远被吞掉，不影响主操作。
type Client interface {
	// SendNotification 尝试通过推送网关投递一条通知。
	SendNotification(ctx context.Context, recipientID uint, notification *models.Notification) error
}

// gatewayClient 是 Client 的 net/http 实现。每次变更调用前先做一次
// CSRF 预检获取令牌，请求头携带 Bearer 令牌；收到 401 时调用
// onUnauthorized 回调（通常用于清除本地令牌状态）。
type gatewayClient struct {
	cfg            config.PushConfig
	httpClient     *http.Client
	onUnauthorized func()
}

// NewGatewayClient creates a push gateway client. onUnauthorized may be nil.
func NewGatewayClient(cfg config.PushConfig, onUnauthorized func()) Client {
	return &gatewayClient{
		cfg:            cfg,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		onUnauthorized: onUnauthorized,
	}
}

// sendNotificationPayload 是推送网关期望的请求体。
type sendNotificationPayload struct {
	RecipientID  uint                 `json:"recipientId"`
	Notification *models.Notification `json:"notification"`
}

// SendNotification 执行 CSRF 预检后调用推送网关的发送端点。
func (c *gatewayClient) SendNotification(ctx context.Context, recipientID uint, notification *models.Notification) error {
	csrfToken, err := c.fetchCSRFToken(ctx)
	if err != nil {
		return fmt.Errorf("推送网关 CSRF 预检失败: %w", err)
	}

	body, err := json.Marshal(sendNotificationPayload{
		RecipientID:  recipientID,
		Notification: notification,
	})
	if err != nil {
		return fmt.Errorf("序列化推送请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+c.cfg.SendPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造推送请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(req, csrfToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("推送网关请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.handleUnauthorized()
		return fmt.Errorf("推送网关返回 401，令牌已失效")
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("推送网关返回非预期状态码: %d", resp.StatusCode)
	}
	return nil
}

// fetchCSRFToken 在变更调用前获取一次性 CSRF 令牌。
func (c *gatewayClient) fetchCSRFToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+c.cfg.CSRFPath, nil)
	if err != nil {
		return "", err
	}
	c.setAuthHeaders(req, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.handleUnauthorized()
		return "", fmt.Errorf("CSRF 预检返回 401")
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("CSRF 预检返回非预期状态码: %d", resp.StatusCode)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("解析 CSRF 令牌响应失败: %w", err)
	}
	return payload.Token, nil
}

func (c *gatewayClient) setAuthHeaders(req *http.Request, csrfToken string) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if csrfToken != "" {
		req.Header.Set("X-CSRF-Token", csrfToken)
	}
}

func (c *gatewayClient) handleUnauthorized() {
	log.Printf("警告: 推送网关拒绝了当前令牌 (401)")
	if c.onUnauthorized != nil {
		c.onUnauthorized()
	}
}
