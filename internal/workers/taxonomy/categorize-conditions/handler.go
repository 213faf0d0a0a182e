// internal/workers/taxonomy/categorize-conditions/handler.go
package categorizeconditions

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	apperrors "trial-screener/internal/common/errors"
	"trial-screener/internal/common/llmjson"
	"trial-screener/internal/common/logger"
	"trial-screener/internal/common/metrics"
	"trial-screener/internal/common/observability"
	"trial-screener/internal/common/retry"
	"trial-screener/internal/common/validation"
	"trial-screener/internal/llm"
	"trial-screener/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	TaskType = "categorize-conditions"

	cacheKeyPrefix = "taxonomy:v2:"
)

var (
	ErrConditionsEmpty = apperrors.NewInvalidInputError("conditions cannot be empty")
	ErrNotConfigured   = apperrors.NewConfigurationError(llm.ErrNotConfigured.Error())
)

type Handler struct {
	config    *Config
	llm       llm.Client
	extractor llmjson.Extractor
	redis     *redis.Client
	db        *sql.DB
	obs       *observability.Observability
	validator *validation.Validator
	logger    logger.Logger

	// test seams
	sleep func(ctx context.Context, d time.Duration) error
	timer backoff.Timer
	now   func() time.Time
}

// NewHandler wires the classifier. client nil means no credential is
// configured; redis, db and obs are optional.
func NewHandler(config *Config, client llm.Client, extractor llmjson.Extractor, redis *redis.Client, db *sql.DB, obs *observability.Observability, log logger.Logger) *Handler {
	if extractor == nil {
		extractor = llmjson.Greedy{}
	}
	h := &Handler{
		config:    config,
		llm:       client,
		extractor: extractor,
		redis:     redis,
		db:        db,
		obs:       obs,
		logger:    log.WithFields(map[string]interface{}{"taskType": TaskType}),
		sleep:     sleepContext,
		now:       time.Now,
	}

	validator, err := validation.NewValidatorFor[classificationPayload]()
	if err != nil {
		h.logger.Warn("Payload schema unavailable, skipping validation", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		h.validator = validator
	}
	return h
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if h.llm == nil {
		return nil, ErrNotConfigured
	}

	terms := input.Conditions.Normalize()
	if len(terms) == 0 {
		return nil, ErrConditionsEmpty
	}

	mode := ModeSingle
	if len(terms) > h.config.ChunkThreshold {
		mode = ModeChunked
	}

	start := h.now()
	log := h.logger.WithFields(map[string]interface{}{
		"mode":      mode,
		"termCount": len(terms),
	})

	key := h.cacheKey(terms)
	if cached := h.cacheGet(ctx, key); cached != nil {
		metrics.TaxonomyRequests.WithLabelValues(mode, "cached").Inc()
		log.Info("Classification served from cache", nil)
		return &Output{
			Result:  cached,
			Partial: models.PartialResult{ChunksAttempted: 0, ChunksSucceeded: 0},
			Mode:    mode,
			Cached:  true,
		}, nil
	}

	log.Info("Classification started", nil)

	var (
		output *Output
		err    error
	)
	if mode == ModeChunked {
		output, err = h.classifyChunked(ctx, terms, log)
	} else {
		output, err = h.classifySingle(ctx, terms, log)
	}
	elapsed := h.now().Sub(start)

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailure
	}
	metrics.TaxonomyRequests.WithLabelValues(mode, outcome).Inc()
	h.obs.RecordClassification(ctx, mode, outcome)
	h.obs.RecordClassificationDuration(ctx, elapsed, mode)

	partial := models.PartialResult{}
	if output != nil {
		partial = output.Partial
	}
	runID := h.recordRun(ctx, mode, len(terms), partial, outcome, elapsed)

	if err != nil {
		log.Error("Classification failed", map[string]interface{}{
			"error":      err.Error(),
			"durationMs": elapsed.Milliseconds(),
		})
		return nil, err
	}

	output.Mode = mode
	output.RunID = runID

	if orphans := output.Result.OrphanLookups(); len(orphans) > 0 {
		log.Warn("Lookup terms map to master terms missing from summary", map[string]interface{}{
			"orphans": orphans,
		})
	}

	if output.Partial.Complete() {
		h.cacheSet(ctx, key, output.Result)
	} else {
		log.Warn("Chunked classification incomplete, result not cached", map[string]interface{}{
			"chunksAttempted": output.Partial.ChunksAttempted,
			"chunksSucceeded": output.Partial.ChunksSucceeded,
		})
	}

	log.Info("Classification completed", map[string]interface{}{
		"durationMs":      elapsed.Milliseconds(),
		"chunksAttempted": output.Partial.ChunksAttempted,
		"chunksSucceeded": output.Partial.ChunksSucceeded,
		"lookupSize":      len(output.Result.Lookup),
	})
	return output, nil
}

func (h *Handler) classifySingle(ctx context.Context, terms []string, log logger.Logger) (*Output, error) {
	prompt := batchPrompt(terms)

	policy := retry.Policy{
		Operation:   "classify",
		MaxAttempts: h.config.MaxAttempts,
		BaseDelay:   h.config.BackoffBase,
		Logger:      log,
		Timer:       h.timer,
	}
	result, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (*models.TaxonomyResult, error) {
		obj, err := h.classifyOnce(ctx, "classify", h.config.ClassifyModel, prompt)
		if err != nil {
			return nil, err
		}
		acc := newAccumulator()
		acc.add(obj)
		return acc.result(), nil
	})
	if err != nil {
		return nil, err
	}

	return &Output{
		Result:  result,
		Partial: models.PartialResult{ChunksAttempted: 1, ChunksSucceeded: 1},
	}, nil
}

// classifyChunked walks the chunks in order. A failed chunk is logged and
// skipped; cancellation stops the walk and fails the run.
func (h *Handler) classifyChunked(ctx context.Context, terms []string, log logger.Logger) (*Output, error) {
	chunks := partition(terms, h.config.ChunkSize)
	acc := newAccumulator()
	partial := models.PartialResult{}

	log.Info("Processing conditions in chunks", map[string]interface{}{
		"chunkSize":  h.config.ChunkSize,
		"chunkCount": len(chunks),
	})

	for idx, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		chunkLog := log.WithFields(map[string]interface{}{
			"chunk":      idx + 1,
			"chunkCount": len(chunks),
		})
		chunkLog.Info("Processing chunk", map[string]interface{}{"chunkTerms": len(chunk)})
		partial.ChunksAttempted++

		prompt := chunkPrompt(chunk)
		policy := retry.Policy{
			Operation:   "classify_chunk",
			MaxAttempts: h.config.ChunkMaxAttempts,
			BaseDelay:   h.config.BackoffBase,
			Logger:      chunkLog,
			Timer:       h.timer,
		}
		obj, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (*llmjson.Object, error) {
			return h.classifyOnce(ctx, "classify_chunk", h.config.ChunkModel, prompt)
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			metrics.TaxonomyChunks.WithLabelValues(metrics.OutcomeFailure).Inc()
			chunkLog.Warn("Chunk failed, skipping", map[string]interface{}{"error": err.Error()})
		} else {
			acc.add(obj)
			partial.ChunksSucceeded++
			metrics.TaxonomyChunks.WithLabelValues(metrics.OutcomeSuccess).Inc()
		}

		if idx < len(chunks)-1 && h.config.ChunkPause > 0 {
			if err := h.sleep(ctx, h.config.ChunkPause); err != nil {
				return nil, err
			}
		}
	}

	return &Output{Result: acc.result(), Partial: partial}, nil
}

// classifyOnce is one model call plus extraction.
func (h *Handler) classifyOnce(ctx context.Context, operation, model, prompt string) (*llmjson.Object, error) {
	text, err := h.llm.Generate(ctx, llm.GenerateRequest{
		Operation:    operation,
		Model:        model,
		Prompt:       prompt,
		Temperature:  h.config.Temperature,
		JSONResponse: true,
	})
	if err != nil {
		return nil, err
	}

	obj, err := h.extractor.Extract(text)
	if err != nil {
		fields := map[string]interface{}{"error": err.Error()}
		var malformed *llmjson.MalformedJSONError
		if errors.As(err, &malformed) {
			fields["offset"] = malformed.Offset
			fields["snippet"] = malformed.Snippet
		}
		h.logger.Debug("Model response did not yield a JSON object", fields)
		return nil, err
	}

	h.checkSchema(obj)
	return obj, nil
}

func (h *Handler) checkSchema(obj *llmjson.Object) {
	if h.validator == nil {
		return
	}
	if res := h.validator.Validate(obj.Map()); !res.Valid {
		metrics.TaxonomySchemaViolations.Inc()
		h.logger.Warn("Model payload does not match taxonomy schema", map[string]interface{}{
			"violations": res.GetErrorMessages(),
		})
	}
}

// cacheKey hashes the normalized, ordered term list together with the
// settings that shape the answer: models, temperature, chunking, extraction
// strategy and prompt text.
func (h *Handler) cacheKey(terms []string) string {
	temperature := "default"
	if h.config.Temperature != nil {
		temperature = fmt.Sprint(*h.config.Temperature)
	}

	d := sha256.New()
	fmt.Fprintf(d, "%s\x00%s\x00%s\x00%d\x00%d\x00%T\x00",
		h.config.ClassifyModel, h.config.ChunkModel, temperature,
		h.config.ChunkSize, h.config.ChunkThreshold, h.extractor)
	_, _ = io.WriteString(d, promptHeader+batchConstraint+chunkConstraint+outputSchema)
	_, _ = d.Write([]byte{0})
	_, _ = io.WriteString(d, strings.Join(terms, "\n"))
	return cacheKeyPrefix + hex.EncodeToString(d.Sum(nil))
}

func (h *Handler) cacheGet(ctx context.Context, key string) *models.TaxonomyResult {
	if h.redis == nil || !h.config.CacheEnabled {
		return nil
	}

	val, err := h.redis.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			h.logger.Warn("Cache lookup failed", map[string]interface{}{"error": err.Error()})
		}
		metrics.TaxonomyCache.WithLabelValues("miss").Inc()
		return nil
	}

	result := models.NewTaxonomyResult()
	if err := json.Unmarshal([]byte(val), result); err != nil {
		h.logger.Warn("Discarding unreadable cache entry", map[string]interface{}{"error": err.Error()})
		metrics.TaxonomyCache.WithLabelValues("miss").Inc()
		return nil
	}
	for _, c := range models.Categories {
		if result.Summary[c] == nil {
			result.Summary[c] = []string{}
		}
	}

	metrics.TaxonomyCache.WithLabelValues("hit").Inc()
	return result
}

func (h *Handler) cacheSet(ctx context.Context, key string, result *models.TaxonomyResult) {
	if h.redis == nil || !h.config.CacheEnabled {
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := h.redis.Set(ctx, key, data, h.config.CacheTTL).Err(); err != nil {
		h.logger.Warn("Cache store failed", map[string]interface{}{"error": err.Error()})
	}
}

// recordRun writes the audit row. Failures are logged and never surface.
func (h *Handler) recordRun(ctx context.Context, mode string, termCount int, partial models.PartialResult, outcome string, elapsed time.Duration) string {
	id := uuid.New().String()
	if h.db == nil {
		return id
	}

	query := `INSERT INTO taxonomy_runs (id, mode, term_count, chunks_attempted, chunks_succeeded, outcome, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := h.db.ExecContext(context.WithoutCancel(ctx), query,
		id, mode, termCount, partial.ChunksAttempted, partial.ChunksSucceeded, outcome, elapsed.Milliseconds())
	if err != nil {
		h.logger.Warn("Failed to record classification run", map[string]interface{}{
			"runId": id,
			"error": err.Error(),
		})
	}
	return id
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
