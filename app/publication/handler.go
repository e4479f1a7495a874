package publication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lysyi3m/autopress/app/database"
)

// Content is the generated output a worker reports on completion.
type Content struct {
	Title        string            `json:"title"`
	Slug         string            `json:"slug,omitempty"`
	Body         string            `json:"body"`
	Excerpt      string            `json:"excerpt,omitempty"`
	Categories   []string          `json:"categories,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	FeatureImage string            `json:"feature_image,omitempty"`
	Fields       map[string]string `json:"fields,omitempty"`
}

// Handler publishes finished content and returns the content item id.
type Handler interface {
	Publish(ctx context.Context, task *database.Task, campaign *database.Campaign, content Content, res Resolution) (string, error)
}

var _ Handler = (*HTTPHandler)(nil)
var _ Handler = (*LogHandler)(nil)

// HTTPHandler posts content to an external publishing service.
type HTTPHandler struct {
	url        string
	httpClient *http.Client
	userAgent  string
	timeout    time.Duration
}

func NewHTTPHandler(url string, httpClient *http.Client, userAgent string, timeout time.Duration) *HTTPHandler {
	return &HTTPHandler{url: url, httpClient: httpClient, userAgent: userAgent, timeout: timeout}
}

type publishRequest struct {
	TaskID     int64      `json:"task_id"`
	CampaignID string     `json:"campaign_id"`
	Status     Status     `json:"status"`
	Date       *time.Time `json:"date,omitempty"`
	Content    Content    `json:"content"`
}

type publishResponse struct {
	ID string `json:"id"`
}

func (h *HTTPHandler) Publish(ctx context.Context, task *database.Task, campaign *database.Campaign, content Content, res Resolution) (string, error) {
	body, err := json.Marshal(publishRequest{
		TaskID:     task.ID,
		CampaignID: campaign.ID,
		Status:     res.Status,
		Date:       res.Date,
		Content:    content,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode publish request: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to publish content: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("HTTP error: %d %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var out publishResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to decode publish response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("publish response carries no content id")
	}

	return out.ID, nil
}

// LogHandler only logs the publication. It is used when no publish URL is configured.
type LogHandler struct{}

func (LogHandler) Publish(_ context.Context, task *database.Task, campaign *database.Campaign, content Content, res Resolution) (string, error) {
	slog.Info("Content published",
		"campaign", campaign.ID,
		"task", task.ID,
		"title", content.Title,
		"status", string(res.Status),
		"date", res.Date)

	return fmt.Sprintf("local-%d", task.ID), nil
}
