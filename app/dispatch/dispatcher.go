// Package dispatch sends pending tasks to their campaign's generation worker.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/autopress/app/database"
	"github.com/lysyi3m/autopress/app/errs"
)

const storeTimeout = 10 * time.Second

type Dispatcher struct {
	campaignRepo database.CampaignRepository
	taskRepo     database.TaskRepository
	httpClient   *http.Client
	callbackURL  string
	userAgent    string
	timeout      time.Duration
	now          func() time.Time
}

func NewDispatcher(campaignRepo database.CampaignRepository, taskRepo database.TaskRepository,
	httpClient *http.Client, callbackURL, userAgent string, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		campaignRepo: campaignRepo,
		taskRepo:     taskRepo,
		httpClient:   httpClient,
		callbackURL:  callbackURL,
		userAgent:    userAgent,
		timeout:      timeout,
		now:          time.Now,
	}
}

type dispatchResponse struct {
	ExecutionID string `json:"execution_id"`
}

// Dispatch moves the task to processing and posts it to the endpoint. It
// returns an error wrapping errs.ErrInvalidTransition when the task is not
// pending or another task of the campaign is already processing.
func (d *Dispatcher) Dispatch(ctx context.Context, campaignID string, taskID int64, endpointID string) error {
	campaign, task, endpoint, err := d.load(ctx, campaignID, taskID, endpointID)
	if err != nil {
		return err
	}

	links, err := d.linkCandidates(ctx, campaign, task)
	if err != nil {
		return err
	}

	body, err := json.Marshal(buildPayload(task, campaign, links, Callback{URL: d.callbackURL, Token: endpoint.Secret}))
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	started, err := d.taskRepo.MarkProcessing(ctx, task.ID, d.now())
	if err != nil {
		return fmt.Errorf("failed to mark task processing: %w", err)
	}
	if !started {
		return fmt.Errorf("task %d not dispatched: %w", task.ID, errs.ErrInvalidTransition)
	}

	executionID, statusCode, err := d.post(ctx, endpoint.URL, body)

	// The outcome is stored even when the caller's context has ended.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	if err != nil {
		dispatchErr := &errs.DispatchError{TaskID: task.ID, StatusCode: statusCode, Err: err}
		if _, markErr := d.taskRepo.MarkFailed(storeCtx, task.ID, dispatchErr.Error(), d.now()); markErr != nil {
			return fmt.Errorf("failed to mark task failed after %v: %w", dispatchErr, markErr)
		}
		return dispatchErr
	}

	if executionID != "" {
		if err := d.taskRepo.SetExecutionID(storeCtx, task.ID, executionID); err != nil {
			slog.Warn("Failed to store execution id", "campaign", campaign.ID, "task", task.ID, "error", err)
		}
	}

	slog.Info("Task dispatched",
		"campaign", campaign.ID,
		"task", task.ID,
		"endpoint", endpoint.ID,
		"execution_id", executionID,
		"links", len(links))

	return nil
}

func (d *Dispatcher) load(ctx context.Context, campaignID string, taskID int64, endpointID string) (*database.Campaign, *database.Task, *database.Endpoint, error) {
	campaign, err := d.campaignRepo.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	if campaign == nil {
		return nil, nil, nil, errs.Validation("campaign_id", "campaign %s does not exist", campaignID)
	}

	task, err := d.taskRepo.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get task: %w", err)
	}
	if task == nil || task.CampaignID != campaignID {
		return nil, nil, nil, errs.Validation("task_id", "task %d does not exist in campaign %s", taskID, campaignID)
	}

	endpoint, err := d.campaignRepo.GetEndpoint(ctx, endpointID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get endpoint: %w", err)
	}
	if endpoint == nil || endpoint.URL == "" {
		return nil, nil, nil, errs.Validation("endpoint_id", "endpoint %s does not exist", endpointID)
	}

	if field, value := task.RequiredInput(); value == "" {
		return nil, nil, nil, errs.Validation(field, "required for %s tasks", task.Type)
	}

	return campaign, task, endpoint, nil
}

func (d *Dispatcher) linkCandidates(ctx context.Context, campaign *database.Campaign, task *database.Task) ([]Link, error) {
	policy := campaign.Generation.InternalLinks
	if !policy.Enabled || policy.Max <= 0 {
		return nil, nil
	}

	candidates, err := d.taskRepo.ListLinkCandidates(ctx, campaign.ID, task.ID, LinkCandidateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list link candidates: %w", err)
	}
	return RankLinks(task, candidates, campaign.Generation.SiteURL, policy.Max), nil
}

// post returns the worker's execution id, or the HTTP status code alongside
// an error for non-2xx responses.
func (d *Dispatcher) post(ctx context.Context, url string, body []byte) (string, int, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to reach worker: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil && !errors.Is(err, io.EOF) {
		return "", resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", resp.StatusCode, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	var out dispatchResponse
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			slog.Debug("Worker response is not JSON", "error", err)
		}
	}
	return out.ExecutionID, resp.StatusCode, nil
}
