// Package postman wraps the single upstream call the proxy makes: fetching one
// collection from the Postman API and classifying the result into the closed
// set of domain fetch errors.
package postman

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/collection-proxy/pkg/config"
	"github.com/polisai/collection-proxy/pkg/domain"
	"github.com/polisai/collection-proxy/pkg/telemetry"
)

// APIKeyHeader carries the credential on every upstream request.
const APIKeyHeader = "X-Api-Key"

var errNullBody = errors.New("upstream response body is null")

// Target identifies the one resource a proxy instance serves. It is built
// from configuration only, never from the inbound request.
type Target struct {
	BaseURL       string
	CollectionUID string
	APIKey        string
	Timeout       time.Duration
}

// TargetFromConfig derives the upstream target from a configuration snapshot.
func TargetFromConfig(cfg *config.Config) Target {
	return Target{
		BaseURL:       cfg.Postman.BaseURL,
		CollectionUID: cfg.Postman.CollectionUID,
		APIKey:        cfg.Postman.APIKey,
		Timeout:       cfg.Postman.Timeout,
	}
}

// URL returns the collection endpoint for t.
func (t Target) URL() string {
	return t.BaseURL + "/collections/" + url.PathEscape(t.CollectionUID)
}

// Client performs collection fetches. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client. A nil httpClient gets an instrumented default
// with no overall timeout; deadlines come from Target.Timeout.
func NewClient(httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	return &Client{
		httpClient: httpClient,
		logger:     logger,
	}
}

// FetchCollection retrieves the collection named by target and returns the
// value of its "collection" field verbatim ("null" when absent). Every
// failure is a *domain.FetchError.
func (c *Client) FetchCollection(ctx context.Context, target Target) (json.RawMessage, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "postman.fetch_collection",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("collection.uid", target.CollectionUID)),
	)
	defer span.End()

	start := time.Now()
	collection, status, err := c.fetch(ctx, target)

	outcome := telemetry.OutcomeSuccess
	var fetchErr *domain.FetchError
	if errors.As(err, &fetchErr) {
		outcome = fetchErr.Kind.String()
		span.SetStatus(codes.Error, fetchErr.Kind.String())
	}
	telemetry.RecordFetchOutcome(span, outcome, status)
	telemetry.RecordFetch(ctx, telemetry.FetchMetrics{
		CollectionUID: target.CollectionUID,
		Outcome:       outcome,
		StatusCode:    status,
		Duration:      time.Since(start),
	})

	return collection, err
}

func (c *Client) fetch(ctx context.Context, target Target) (json.RawMessage, int, error) {
	if target.APIKey == "" {
		return nil, 0, domain.NewConfigMissing(config.APIKeyEnv)
	}

	if target.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, target.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL(), nil)
	if err != nil {
		return nil, 0, domain.NewTransportFailure(err)
	}
	req.Header.Set(APIKeyHeader, target.APIKey)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("fetching collection",
		"collection_uid", target.CollectionUID,
		"url", req.URL.String(),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, domain.NewTransportFailure(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, domain.NewTransportFailure(fmt.Errorf("read upstream body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var details json.RawMessage
		if err := json.Unmarshal(body, &details); err != nil {
			return nil, resp.StatusCode, domain.NewTransportFailure(fmt.Errorf("decode upstream error body: %w", err))
		}
		return nil, resp.StatusCode, domain.NewUpstreamRejected(resp.StatusCode, details)
	}

	collection, err := extractCollection(body)
	if err != nil {
		return nil, resp.StatusCode, domain.NewTransportFailure(err)
	}
	return collection, resp.StatusCode, nil
}

// extractCollection pulls the "collection" member out of a success body.
// Non-object documents have no such member and yield null; a literal null
// document cannot be indexed and is an error.
func extractCollection(body []byte) (json.RawMessage, error) {
	var doc json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode upstream body: %w", err)
	}

	trimmed := bytes.TrimSpace(doc)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil, errNullBody
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return json.RawMessage("null"), nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decode upstream body: %w", err)
	}

	collection, ok := envelope["collection"]
	if !ok {
		return json.RawMessage("null"), nil
	}
	return collection, nil
}
