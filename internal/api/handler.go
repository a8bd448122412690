package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/fraudguard/internal/assess"
	"github.com/opensource-finance/fraudguard/internal/bus"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/metrics"
	"github.com/opensource-finance/fraudguard/internal/pipeline"
	"github.com/opensource-finance/fraudguard/internal/repository"
)

// Request body limits.
const (
	maxPredictBody = 1 << 20
	maxTrainBody   = 64 << 20
)

// Dependencies are the services the API handlers call.
// Repo, Cache and Bus may be nil.
type Dependencies struct {
	Assessor  *assess.Assessor
	Processor *pipeline.Processor
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus

	// ModelPath, when set, receives the artifact after each training run.
	ModelPath string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	assessor  *assess.Assessor
	processor *pipeline.Processor
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	modelPath string
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies, version string) *Handler {
	return &Handler{
		assessor:  deps.Assessor,
		processor: deps.Processor,
		repo:      deps.Repo,
		cache:     deps.Cache,
		bus:       deps.Bus,
		modelPath: deps.ModelPath,
		version:   version,
	}
}

// PredictResponse is the response for POST /api/v1/predict.
type PredictResponse struct {
	domain.RiskAssessment
	BlockchainTxHash string `json:"blockchain_tx_hash,omitempty"`
	Cached           bool   `json:"cached,omitempty"`
}

// TransactionResponse is the response for POST /api/v1/transactions.
type TransactionResponse struct {
	Transaction    *domain.StoredTransaction `json:"transaction"`
	RiskAssessment *domain.AssessmentRecord  `json:"risk_assessment"`
	ActionRequired domain.Action             `json:"action_required"`
}

// TrainRequest is the request body for POST /api/v1/model/train.
type TrainRequest struct {
	Transactions []domain.LabeledTransaction `json:"transactions"`
}

// ModelInfo describes the serving model.
type ModelInfo struct {
	Trained      bool      `json:"trained"`
	Version      string    `json:"version,omitempty"`
	TrainedAt    time.Time `json:"trained_at,omitzero"`
	Samples      int       `json:"samples,omitempty"`
	FraudSamples int       `json:"fraud_samples,omitempty"`
	Trees        int       `json:"trees,omitempty"`
	Features     []string  `json:"features,omitempty"`
}

// Predict handles POST /api/v1/predict requests.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	res, ok := h.process(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, PredictResponse{
		RiskAssessment:   res.Assessment.RiskAssessment,
		BlockchainTxHash: res.Assessment.LedgerTxHash,
		Cached:           res.Cached,
	})
}

// CreateTransaction handles POST /api/v1/transactions requests.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	res, ok := h.process(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, TransactionResponse{
		Transaction:    res.Transaction,
		RiskAssessment: res.Assessment,
		ActionRequired: res.Assessment.Action,
	})
}

// process decodes a transaction and runs it through the pipeline.
func (h *Handler) process(w http.ResponseWriter, r *http.Request) (*pipeline.Result, bool) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var tx domain.Transaction
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPredictBody)).Decode(&tx); err != nil {
		writeDecodeError(w, err)
		return nil, false
	}

	res, err := h.processor.Process(ctx, tenantID, tx)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return res, true
}

// ListTransactions handles GET /api/v1/transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	limit, err := queryInt(r, "limit", 100)
	if err != nil || limit < 0 || limit > 1000 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "limit must be an integer between 0 and 1000",
		})
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "offset must be a non-negative integer",
		})
		return
	}

	if !h.requireRepo(w) {
		return
	}

	txs, err := h.repo.ListTransactions(ctx, tenantID, limit, offset)
	if err != nil {
		slog.Error("failed to list transactions", "tenant_id", tenantID, "error", err)
		writeError(w, err)
		return
	}
	if txs == nil {
		txs = []*domain.StoredTransaction{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"count":        len(txs),
		"limit":        limit,
		"offset":       offset,
	})
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	if !h.requireRepo(w) {
		return
	}

	tx, err := h.repo.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// GetAssessment retrieves the latest assessment of a transaction.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "txId")

	if h.cache != nil {
		if rec, err := h.cache.GetAssessment(ctx, tenantID, txID); err == nil && rec != nil {
			writeJSON(w, http.StatusOK, rec)
			return
		}
	}

	if !h.requireRepo(w) {
		return
	}

	rec, err := h.repo.GetAssessmentByTx(ctx, tenantID, txID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// FeatureImportances handles GET /api/v1/model/features.
func (h *Handler) FeatureImportances(w http.ResponseWriter, r *http.Request) {
	imp := h.assessor.FeatureImportances()
	if imp == nil {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Model not trained or feature importances not available",
		})
		return
	}
	writeJSON(w, http.StatusOK, imp)
}

// GetModel handles GET /api/v1/model.
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	m := h.assessor.Model()
	if m == nil {
		writeJSON(w, http.StatusOK, ModelInfo{Trained: false})
		return
	}
	writeJSON(w, http.StatusOK, ModelInfo{
		Trained:      true,
		Version:      m.Version,
		TrainedAt:    m.TrainedAt,
		Samples:      m.Samples,
		FraudSamples: m.FraudSamples,
		Trees:        len(m.Forest.Trees),
		Features:     m.FeatureNames(),
	})
}

// TrainModel fits a new model on the posted labeled transactions, stores the
// artifact and swaps it in.
func (h *Handler) TrainModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req TrainRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTrainBody)).Decode(&req); err != nil {
		writeDecodeError(w, err)
		return
	}

	result, err := h.assessor.Fit(ctx, req.Transactions)
	if err != nil {
		metrics.ModelTrainingsTotal.WithLabelValues("failed").Inc()
		writeError(w, err)
		return
	}
	metrics.ModelTrainingsTotal.WithLabelValues("success").Inc()
	metrics.SetModelVersion(result.ModelVersion)

	h.persistModel(r, result)

	if h.bus != nil {
		if err := bus.PublishJSON(ctx, h.bus, tenantID, domain.TopicModelTrained, result); err != nil {
			slog.Error("failed to publish model trained event", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// persistModel stores the trained artifact in the repository and the model
// file. Failures are logged; the new model keeps serving. When a concurrent
// train has already replaced it, nothing is stored for this version.
func (h *Handler) persistModel(r *http.Request, result *domain.TrainingResult) {
	if h.repo != nil {
		data, err := h.assessor.MarshalVersion(result.ModelVersion)
		if errors.Is(err, assess.ErrModelSuperseded) {
			slog.Info("model superseded before it was stored", "version", result.ModelVersion)
			return
		}
		if err == nil {
			err = h.repo.SaveModelArtifact(r.Context(), &domain.ModelArtifact{
				Version:      result.ModelVersion,
				Data:         data,
				Samples:      result.Samples,
				FraudSamples: result.FraudSamples,
				CreatedAt:    result.TrainedAt,
			})
		}
		if err != nil {
			slog.Error("failed to store model artifact", "version", result.ModelVersion, "error", err)
		}
	}

	if h.modelPath != "" {
		err := h.assessor.SaveFileVersion(h.modelPath, result.ModelVersion)
		if err != nil && !errors.Is(err, assess.ErrModelSuperseded) {
			slog.Error("failed to write model file", "path", h.modelPath, "error", err)
		}
	}
}

// ReloadModel loads the latest stored artifact into the assessor.
func (h *Handler) ReloadModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.requireRepo(w) {
		return
	}

	art, err := h.repo.GetLatestModelArtifact(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.assessor.Load(bytes.NewReader(art.Data)); err != nil {
		slog.Error("failed to load stored model artifact", "version", art.Version, "error", err)
		writeError(w, err)
		return
	}
	metrics.SetModelVersion(art.Version)

	slog.Info("model reloaded from repository", "version", art.Version)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "model reloaded successfully",
		"version": art.Version,
	})
}

// ListBlockedAccounts handles GET /api/v1/blocked-accounts.
func (h *Handler) ListBlockedAccounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if !h.requireRepo(w) {
		return
	}

	accts, err := h.repo.ListBlockedAccounts(ctx, tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	if accts == nil {
		accts = []*domain.BlockedAccount{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"blocked_accounts": accts,
		"count":            len(accts),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether a model is loaded and predictions can be served.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.assessor.Trained() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready":  "false",
			"reason": "model not trained",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// Index returns service info.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "FraudGuard",
		"version": h.version,
		"docs":    "/api/v1",
	})
}

func (h *Handler) requireRepo(w http.ResponseWriter) bool {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return false
	}
	return true
}

// writeError maps engine and repository errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrMalformedInput):
		body := map[string]string{"error": err.Error()}
		if f := domain.FieldOf(err); f != "" {
			body["field"] = f
		}
		writeJSON(w, http.StatusBadRequest, body)
	case errors.Is(err, domain.ErrNotTrained):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotTrainable), errors.Is(err, domain.ErrArtifactCorrupt):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, repository.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

// writeDecodeError reports a body that could not be decoded. Field-level
// problems found while decoding keep their field name.
func writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrMalformedInput) {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": "invalid JSON request body",
	})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
