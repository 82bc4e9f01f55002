// Package dcf is the client of the central data collection system that
// receives report datasets and tracks their validation status.
package dcf

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/tse-report-engine/internal/domain"
)

// BreakerConfig tunes the circuit breaker in front of the remote system.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// Config configures the client.
type Config struct {
	BaseURL    string
	Username   string
	Password   string
	Timeout    time.Duration
	RateLimit  int
	RetryCount int
	Breaker    BreakerConfig
}

// ConfigFrom converts the application gateway section.
func ConfigFrom(c domain.GatewayConfig) Config {
	return Config{
		BaseURL:    c.BaseURL,
		Username:   c.Username,
		Password:   c.Password,
		Timeout:    c.Timeout,
		RateLimit:  c.RateLimit,
		RetryCount: c.RetryCount,
	}
}

// MessageRequest is the envelope of a send or submit operation.
type MessageRequest struct {
	MessageID       string           `json:"messageId"`
	Operation       domain.Operation `json:"operation"`
	SenderDatasetID string           `json:"senderDatasetId"`
	DatasetID       string           `json:"datasetId,omitempty"`
	DcCode          string           `json:"dcCode"`
}

// MessageResponse acknowledges a message.
type MessageResponse struct {
	MessageID string `json:"messageId"`
	Accepted  bool   `json:"accepted"`
	Error     string `json:"error,omitempty"`
}

// Client talks to the collection system over its REST interface.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

// NewClient creates a collection system client.
func NewClient(config Config, logger *logrus.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 5
	}
	if config.Breaker.MaxRequests == 0 {
		config.Breaker.MaxRequests = 3
	}
	if config.Breaker.Interval == 0 {
		config.Breaker.Interval = 10 * time.Second
	}
	if config.Breaker.Timeout == 0 {
		config.Breaker.Timeout = 5 * time.Second
	}
	if config.Breaker.FailureThreshold == 0 {
		config.Breaker.FailureThreshold = 5
	}

	httpClient := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(config.Timeout).
		SetRetryCount(config.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if config.Username != "" {
		httpClient.SetBasicAuth(config.Username, config.Password)
	}

	threshold := config.Breaker.FailureThreshold
	settings := gobreaker.Settings{
		Name:        "DataCollection",
		MaxRequests: config.Breaker.MaxRequests,
		Interval:    config.Breaker.Interval,
		Timeout:     config.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from_state":      from.String(),
				"to_state":        to.String(),
			}).Warn("Circuit breaker state changed")
		},
		// a missing dataset is an answer, not an outage
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound)
		},
	}

	return &Client{
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// Send uploads, replaces or submits a report dataset and returns the id of
// the message acknowledged by the collection system.
func (c *Client) Send(ctx context.Context, report *domain.Report, op domain.Operation) (string, error) {
	req := MessageRequest{
		MessageID:       uuid.New().String(),
		Operation:       op,
		SenderDatasetID: report.SenderDatasetID(),
		DatasetID:       report.DatasetID,
		DcCode:          report.DcCode,
	}

	var ack MessageResponse
	err := c.do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&ack).
			Post("/messages")
	})
	if err != nil {
		return "", fmt.Errorf("sending %s for %s: %w", op, req.SenderDatasetID, err)
	}
	if !ack.Accepted {
		return "", fmt.Errorf("sending %s for %s: rejected: %s", op, req.SenderDatasetID, ack.Error)
	}
	if ack.MessageID == "" {
		ack.MessageID = req.MessageID
	}

	c.logger.WithFields(logrus.Fields{
		"operation":         string(op),
		"sender_dataset_id": req.SenderDatasetID,
		"message_id":        ack.MessageID,
	}).Info("Message sent to collection system")
	return ack.MessageID, nil
}

// GetDataset reads the current state of a dataset.
func (c *Client) GetDataset(ctx context.Context, datasetID string) (*domain.Dataset, error) {
	var ds domain.Dataset
	err := c.do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetPathParam("id", datasetID).
			SetResult(&ds).
			Get("/datasets/{id}")
	})
	if err != nil {
		return nil, fmt.Errorf("getting dataset %s: %w", datasetID, err)
	}
	return &ds, nil
}

// ListDatasets lists the datasets of a data collection.
func (c *Client) ListDatasets(ctx context.Context, dcCode string) ([]domain.Dataset, error) {
	var out []domain.Dataset
	err := c.do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetQueryParam("dcCode", dcCode).
			SetResult(&out).
			Get("/datasets")
	})
	if err != nil {
		return nil, fmt.Errorf("listing datasets of %s: %w", dcCode, err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, call func() (*resty.Response, error)) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait failed: %w", err)
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := call()
		if err != nil {
			return nil, err
		}
		switch {
		case resp.StatusCode() == http.StatusNotFound:
			return nil, domain.ErrNotFound
		case resp.IsError():
			return nil, fmt.Errorf("collection system returned status %d", resp.StatusCode())
		}
		return nil, nil
	})
	return err
}

var _ domain.Gateway = (*Client)(nil)
