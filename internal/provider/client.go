package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Message is one turn of a chat completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewClient(baseURL, apiKey string, perSecond float64, burst int, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			// Per-call deadlines come from the request context.
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 16,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:  logger.With(zap.String("component", "provider")),
	}
}

// Complete performs one chat completion call. maxTokens <= 0 leaves the
// field unset. The timeout applies to this call only; a timeout is
// surfaced as KindTimeout, never as a generic transport error.
func (c *Client) Complete(ctx context.Context, model string, messages []Message, temperature float64, maxTokens int, timeout time.Duration) (string, error) {
	body := `{}`
	body, _ = sjson.Set(body, "model", model)
	for i, m := range messages {
		body, _ = sjson.Set(body, "messages."+strconv.Itoa(i)+".role", m.Role)
		body, _ = sjson.Set(body, "messages."+strconv.Itoa(i)+".content", m.Content)
	}
	body, _ = sjson.Set(body, "temperature", temperature)
	if maxTokens > 0 {
		body, _ = sjson.Set(body, "max_tokens", maxTokens)
	}

	payload, err := c.post(ctx, model, "/chat/completions", body, timeout)
	if err != nil {
		return "", err
	}

	content := gjson.GetBytes(payload, "choices.0.message.content")
	if !content.Exists() || content.String() == "" {
		finish := gjson.GetBytes(payload, "choices.0.finish_reason").String()
		c.logger.Warn("Model returned a response with no content",
			zap.String("model", model),
			zap.String("finish_reason", finish),
		)
		return "", &Error{Kind: KindEmpty, Model: model, Detail: "no content in response"}
	}

	return content.String(), nil
}

// GenerateImage performs one image generation call and returns the image
// URL. size is "WIDTHxHEIGHT", e.g. "512x512".
func (c *Client) GenerateImage(ctx context.Context, model, prompt, size string, timeout time.Duration) (string, error) {
	width, height, err := parseSize(size)
	if err != nil {
		return "", err
	}

	body := `{}`
	body, _ = sjson.Set(body, "model", model)
	body, _ = sjson.Set(body, "prompt", prompt)
	body, _ = sjson.Set(body, "width", width)
	body, _ = sjson.Set(body, "height", height)
	body, _ = sjson.Set(body, "n", 1)
	body, _ = sjson.Set(body, "response_format", "url")

	payload, err := c.post(ctx, model, "/images/generations", body, timeout)
	if err != nil {
		return "", err
	}

	url := gjson.GetBytes(payload, "data.0.url")
	if !url.Exists() || url.String() == "" {
		return "", &Error{Kind: KindEmpty, Model: model, Detail: "no image url in response"}
	}

	return url.String(), nil
}

func (c *Client) post(ctx context.Context, model, path, body string, timeout time.Duration) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindTransport, Model: model, Detail: err.Error()}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+path, bytes.NewReader([]byte(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeoutErr(err) {
			return nil, &Error{Kind: KindTimeout, Model: model, Detail: "deadline exceeded"}
		}
		return nil, &Error{Kind: KindTransport, Model: model, Detail: err.Error()}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeoutErr(err) {
			return nil, &Error{Kind: KindTimeout, Model: model, Detail: "deadline exceeded reading body"}
		}
		return nil, &Error{Kind: KindTransport, Model: model, Detail: err.Error()}
	}

	c.logger.Debug("Provider call finished",
		zap.String("model", model),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode != http.StatusOK {
		detail := gjson.GetBytes(payload, "error.message").String()
		return nil, &Error{Kind: KindAPI, Model: model, StatusCode: resp.StatusCode, Detail: detail}
	}

	return payload, nil
}

func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func parseSize(size string) (int, int, error) {
	parts := strings.SplitN(size, "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid image size %q", size)
	}
	width, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid image size %q", size)
	}
	height, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid image size %q", size)
	}
	return width, height, nil
}
