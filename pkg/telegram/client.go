package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Client is the outbound Bot API surface the bridge uses.
type Client interface {
	SendMessage(ctx context.Context, req SendMessageRequest) (int64, error)
}

type BotClient struct {
	baseURL  string
	botToken string
	client   *http.Client
	logger   *logrus.Logger
}

func NewClient(baseURL, botToken string, httpClient *http.Client) Client {
	return NewClientWithLogger(baseURL, botToken, httpClient, nil)
}

func NewClientWithLogger(baseURL, botToken string, httpClient *http.Client, logger *logrus.Logger) Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	baseURL = strings.TrimSuffix(baseURL, "/")

	return &BotClient{
		baseURL:  baseURL,
		botToken: botToken,
		client:   httpClient,
		logger:   logger,
	}
}

// APIError is a non-OK Bot API response. Temporary distinguishes
// statuses worth retrying (rate limits and server errors) from
// permanent rejections.
type APIError struct {
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.StatusCode, e.Description)
}

func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// SendMessage posts a sendMessage call and returns the id of the
// delivered message. Text longer than MaxMessageLength is truncated
// with an ellipsis rather than rejected upstream.
func (c *BotClient) SendMessage(ctx context.Context, req SendMessageRequest) (int64, error) {
	if req.Text == "" {
		return 0, fmt.Errorf("message text is required")
	}
	if len([]rune(req.Text)) > MaxMessageLength {
		runes := []rune(req.Text)
		req.Text = string(runes[:MaxMessageLength-1]) + "…"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.botToken)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("failed to read response: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return 0, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if !apiResp.OK || apiResp.Result == nil {
		c.logger.WithFields(logrus.Fields{
			"status":      resp.StatusCode,
			"description": apiResp.Description,
		}).Warn("Telegram sendMessage rejected")
		return 0, &APIError{StatusCode: resp.StatusCode, Description: apiResp.Description}
	}

	return apiResp.Result.MessageID, nil
}
