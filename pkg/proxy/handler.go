package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/polisai/collection-proxy/pkg/config"
	"github.com/polisai/collection-proxy/pkg/domain"
	"github.com/polisai/collection-proxy/pkg/postman"
	"github.com/polisai/collection-proxy/pkg/telemetry"
)

// Envelope messages returned to callers.
const (
	msgUpstreamRejected = "Postman API request failed"
	msgFetchFailed      = "Failed to fetch collection"
)

// Fetcher retrieves the configured collection.
type Fetcher interface {
	FetchCollection(ctx context.Context, target postman.Target) (json.RawMessage, error)
}

// CollectionHandlerConfig wires a CollectionHandler.
type CollectionHandlerConfig struct {
	Source  config.Source
	Fetcher Fetcher
	Logger  *slog.Logger
	Metrics *Metrics
}

// CollectionHandler serves GET /docs/collection. Each request reads the
// current configuration snapshot once; nothing from the inbound request
// influences the upstream call.
type CollectionHandler struct {
	source  config.Source
	fetcher Fetcher
	logger  *slog.Logger
	metrics *Metrics
}

// NewCollectionHandler builds the handler. A nil Fetcher gets a default
// postman.Client.
func NewCollectionHandler(cfg CollectionHandlerConfig) *CollectionHandler {
	if cfg.Source == nil {
		panic("proxy: CollectionHandlerConfig.Source is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = postman.NewClient(nil, logger)
	}

	return &CollectionHandler{
		source:  cfg.Source,
		fetcher: fetcher,
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

func (h *CollectionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := postman.TargetFromConfig(h.source.Current())

	var (
		collection json.RawMessage
		err        error
	)
	if target.APIKey == "" {
		err = domain.NewConfigMissing(config.APIKeyEnv)
	} else {
		collection, err = h.fetcher.FetchCollection(r.Context(), target)
	}

	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.metrics.RecordCollectionOutcome(telemetry.OutcomeSuccess)
	if collection == nil {
		collection = json.RawMessage("null")
	}
	writeRawJSON(w, http.StatusOK, collection)
}

// writeError maps a fetch failure onto the response envelope.
func (h *CollectionHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := RequestIDFromContext(r.Context())

	var fe *domain.FetchError
	if !errors.As(err, &fe) {
		fe = domain.NewTransportFailure(err)
	}

	switch fe.Kind {
	case domain.KindConfigMissing:
		h.logger.Error("Collection proxy is not configured",
			"setting", fe.Setting,
			"request_id", requestID,
		)
		h.metrics.RecordCollectionOutcome(telemetry.OutcomeConfigMissing)
		writeJSON(w, http.StatusInternalServerError, domain.ErrorEnvelope{Error: fe.Error()})

	case domain.KindUpstreamRejected:
		h.logger.Error("Postman API error",
			"status", fe.Status,
			"details", string(fe.Body),
			"request_id", requestID,
		)
		h.metrics.RecordCollectionOutcome(telemetry.OutcomeUpstreamRejected)
		writeJSON(w, fe.Status, domain.ErrorEnvelope{Error: msgUpstreamRejected, Details: fe.Body})

	default:
		h.logger.Error("Error fetching collection",
			"error", fe.Message,
			"request_id", requestID,
		)
		h.metrics.RecordCollectionOutcome(telemetry.OutcomeTransportFailure)
		writeJSON(w, http.StatusInternalServerError, domain.ErrorEnvelope{Error: msgFetchFailed, Details: fe.Message})
	}
}
