// Package push delivers tracking events point-to-point for deployments that
// run without a broker.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rief3550/go-tracking-relay/pkg/tracking"
)

// enRoutePath is the relay endpoint the fallback posts to. The name is kept
// from the original order service's webhook contract.
const enRoutePath = "/events/work-order-en-camino"

// httpDoer is the slice of http.Client the publisher needs.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

var _ tracking.EventPublisher = (*DirectPublisher)(nil)

// DirectPublisher implements tracking.EventPublisher by POSTing the canonical
// wire JSON to a known relay endpoint. Like the broker path it is fail-open:
// a non-2xx response or transport error is logged and swallowed.
type DirectPublisher struct {
	client httpDoer
	url    string
	logger zerolog.Logger
	now    func() time.Time

	failed atomic.Int64
}

// NewDirectPublisher creates a publisher targeting baseURL. A nil client
// falls back to a default with a short timeout; the caller's state transition
// should never wait long on a dead relay.
func NewDirectPublisher(client httpDoer, baseURL string, logger zerolog.Logger) (*DirectPublisher, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("direct-call target URL cannot be empty")
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &DirectPublisher{
		client: client,
		url:    strings.TrimRight(baseURL, "/") + enRoutePath,
		logger: logger.With().Str("component", "DirectPublisher").Str("url", baseURL).Logger(),
		now:    time.Now,
	}, nil
}

// Publish posts event to the relay endpoint. Never fails observably.
func (p *DirectPublisher) Publish(ctx context.Context, event *tracking.TrackingEvent) {
	stamped := *event
	if stamped.Timestamp == "" {
		stamped.Timestamp = p.now().UTC().Format(time.RFC3339)
	}

	payload, err := json.Marshal(&stamped)
	if err != nil {
		p.recordFailure(err, stamped.OrderID, "marshal")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		p.recordFailure(err, stamped.OrderID, "request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.recordFailure(err, stamped.OrderID, "post")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.recordFailure(fmt.Errorf("relay responded %s", resp.Status), stamped.OrderID, "response")
		return
	}

	p.logger.Debug().Str("order", stamped.OrderID).Msg("Event delivered via direct call.")
}

// FailedDeliveries returns the number of deliveries swallowed so far.
func (p *DirectPublisher) FailedDeliveries() int64 {
	return p.failed.Load()
}

func (p *DirectPublisher) recordFailure(err error, orderID, stage string) {
	p.failed.Add(1)
	p.logger.Error().
		Err(err).
		Str("order", orderID).
		Str("stage", stage).
		Msg("Direct delivery failed. Continuing without it.")
}
