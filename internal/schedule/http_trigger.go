package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"scrape-orchestrator/internal/apperr"
)

// HTTPTriggerService talks to an external scheduling service over HTTP.
type HTTPTriggerService struct {
	endpoint string
	client   *http.Client
}

func NewHTTPTriggerService(endpoint string, timeout time.Duration) *HTTPTriggerService {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTriggerService{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type registerRequest struct {
	ScheduleID     string      `json:"schedule_id"`
	CronExpression string      `json:"cron_expression"`
	Timezone       string      `json:"timezone"`
	CallbackTarget string      `json:"callback_target"`
	Retry          RetryPolicy `json:"retry"`
}

func (t *HTTPTriggerService) RegisterTrigger(ctx context.Context, scheduleID, cronExpr, timezone, callbackTarget string, policy RetryPolicy) error {
	body, err := json.Marshal(registerRequest{
		ScheduleID:     scheduleID,
		CronExpression: cronExpr,
		Timezone:       timezone,
		CallbackTarget: callbackTarget,
		Retry:          policy,
	})
	if err != nil {
		return fmt.Errorf("marshal register request: %w", err)
	}
	return t.do(ctx, http.MethodPost, t.endpoint+"/triggers", body)
}

func (t *HTTPTriggerService) DeregisterTrigger(ctx context.Context, scheduleID string) error {
	return t.do(ctx, http.MethodDelete, t.endpoint+"/triggers/"+scheduleID, nil)
}

func (t *HTTPTriggerService) do(ctx context.Context, method, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.CodeTransient, "scheduler.http", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < http.StatusMultipleChoices:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return apperr.New(apperr.CodeNotFound, "scheduler.http", "%s %s: status 404", method, url)
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return apperr.New(apperr.CodeTransient, "scheduler.http", "%s %s: status %d", method, url, resp.StatusCode)
	default:
		return apperr.New(apperr.CodeValidation, "scheduler.http", "%s %s: status %d", method, url, resp.StatusCode)
	}
}
