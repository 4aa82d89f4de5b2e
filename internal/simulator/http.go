package simulator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-resty/resty/v2"

	"github.com/okian/vitalrisk/internal/domain/accuracy"
	"github.com/okian/vitalrisk/internal/domain/model"
)

// Submission results.
type result string

const (
	resultAccepted  result = "accepted"
	resultDuplicate result = "duplicate"
	resultFailed    result = "failed"
)

// errUnexpectedStatus is returned when the service answers with a status the
// simulator does not expect for the call.
var errUnexpectedStatus = errors.New("unexpected status")

// Client talks to the service's HTTP API.
type Client struct {
	http *resty.Client
}

// NewClient creates a client for the service at baseURL. Only transport errors
// are retried; readings carry an event id so a replay is safe.
func NewClient(cfg *Config) *Client {
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(retryWaitTime).
		SetRetryMaxWaitTime(retryMaxWaitTime).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Client{http: c}
}

func statusError(op string, resp *resty.Response, body *apiError) error {
	if body != nil && body.Code != "" {
		return fmt.Errorf("%s: %w %d: %s: %s", op, errUnexpectedStatus, resp.StatusCode(), body.Code, body.Message)
	}
	return fmt.Errorf("%s: %w %d", op, errUnexpectedStatus, resp.StatusCode())
}

// Ready checks the service's readiness probe.
func (c *Client) Ready(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/readyz")
	if err != nil {
		return fmt.Errorf("readyz: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return statusError("readyz", resp, nil)
	}
	return nil
}

// RegisterPatient creates the patient. existing is true when the id was
// already registered by an earlier run.
func (c *Client) RegisterPatient(ctx context.Context, p model.PatientInput) (existing bool, err error) {
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(p).
		SetError(&apiErr).
		Post("/patients")
	if err != nil {
		return false, fmt.Errorf("register %s: %w", p.ID, err)
	}

	switch resp.StatusCode() {
	case http.StatusCreated:
		return false, nil
	case http.StatusBadRequest:
		if found, getErr := c.patientExists(ctx, p.ID); getErr == nil && found {
			return true, nil
		}
	}
	return false, statusError("register "+p.ID, resp, &apiErr)
}

func (c *Client) patientExists(ctx context.Context, id string) (bool, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/patients/" + url.PathEscape(id))
	if err != nil {
		return false, err
	}
	return resp.StatusCode() == http.StatusOK, nil
}

// SubmitReading posts one reading and classifies the response.
func (c *Client) SubmitReading(ctx context.Context, in model.VitalsInput) (result, *ingestAck, error) {
	var (
		ack    ingestAck
		apiErr apiError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(in).
		SetResult(&ack).
		SetError(&apiErr).
		Post("/vitals")
	if err != nil {
		return resultFailed, nil, fmt.Errorf("submit %s: %w", in.EventID, err)
	}

	switch resp.StatusCode() {
	case http.StatusCreated:
		return resultAccepted, &ack, nil
	case http.StatusOK:
		return resultDuplicate, &ack, nil
	default:
		return resultFailed, nil, statusError("submit "+in.EventID, resp, &apiErr)
	}
}

// Overview fetches the dashboard aggregate.
func (c *Client) Overview(ctx context.Context) (*model.Overview, error) {
	var ov model.Overview
	resp, err := c.http.R().SetContext(ctx).SetResult(&ov).Get("/dashboard/overview")
	if err != nil {
		return nil, fmt.Errorf("overview: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, statusError("overview", resp, nil)
	}
	return &ov, nil
}

// Accuracy fetches the predictions-vs-actual summary.
func (c *Client) Accuracy(ctx context.Context) (*accuracy.Summary, error) {
	var body struct {
		Summary accuracy.Summary `json:"summary"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&body).Get("/dashboard/predictions-vs-actual")
	if err != nil {
		return nil, fmt.Errorf("predictions vs actual: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, statusError("predictions vs actual", resp, nil)
	}
	return &body.Summary, nil
}
