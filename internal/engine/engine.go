// Package engine orchestrates the scoring pipeline: validation, feature
// transformation, the static and sequential models, the domain rule layer,
// explanation and the audit trail.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/veilpay/riskengine/internal/audit"
	"github.com/veilpay/riskengine/internal/explain"
	"github.com/veilpay/riskengine/internal/feature"
	"github.com/veilpay/riskengine/internal/history"
	"github.com/veilpay/riskengine/internal/idgen"
	"github.com/veilpay/riskengine/internal/logging"
	"github.com/veilpay/riskengine/internal/metrics"
	"github.com/veilpay/riskengine/internal/model"
	"github.com/veilpay/riskengine/internal/rules"
	"github.com/veilpay/riskengine/internal/syncutil"
	"github.com/veilpay/riskengine/internal/traces"
)

// Verdicts, in escalating order.
const (
	VerdictAllow = "ALLOW"
	VerdictFlag  = "FLAG"
	VerdictBlock = "BLOCK"
)

// Result is the full scoring response for one transaction.
type Result struct {
	TransactionID      string           `json:"transaction_id"`
	RiskScore          float64          `json:"risk_score"`
	Verdict            string           `json:"verdict"`
	StaticScore        float64          `json:"static_score"`
	SequentialScore    float64          `json:"sequential_score"`
	Factors            []explain.Factor `json:"factors"`
	SequentialDegraded bool             `json:"sequential_degraded"`
}

// Options bundles the tunables for a Service.
type Options struct {
	WindowSize       int
	StaticWeight     float64
	SequentialWeight float64
	FlagThreshold    float64
	BlockThreshold   float64
}

// Service runs the pipeline. All state behind it is either immutable
// (models, transformer) or guarded (history store via per-identity locks),
// so a single Service serves concurrent requests.
type Service struct {
	transformer *feature.Transformer
	static      *model.Ensemble
	sequential  *model.Recurrent
	store       history.Store
	rules       *rules.Engine
	explainer   *explain.Generator
	sink        audit.Sink
	locks       *syncutil.KeyedMutex
	opts        Options
	logger      *slog.Logger

	// publish, when set, receives every audit event for the live feed.
	publish func(*audit.Event)
}

// NewService wires the pipeline together.
func NewService(
	transformer *feature.Transformer,
	static *model.Ensemble,
	sequential *model.Recurrent,
	store history.Store,
	ruleEngine *rules.Engine,
	explainer *explain.Generator,
	sink audit.Sink,
	opts Options,
	logger *slog.Logger,
) *Service {
	return &Service{
		transformer: transformer,
		static:      static,
		sequential:  sequential,
		store:       store,
		rules:       ruleEngine,
		explainer:   explainer,
		sink:        sink,
		locks:       syncutil.NewKeyedMutex(),
		opts:        opts,
		logger:      logger,
	}
}

// SetPublisher installs the live-feed hook. Must be called before the
// service starts handling requests.
func (s *Service) SetPublisher(fn func(*audit.Event)) { s.publish = fn }

// Score runs one transaction through the full pipeline.
//
// The per-identity critical section covers snapshot, scoring and append, so
// concurrent requests for the same sender serialize and each sees the
// windows left by those before it. History mutation happens only after
// validation has passed; a rejected transaction leaves no trace.
func (s *Service) Score(ctx context.Context, tx *feature.Transaction) (*Result, error) {
	start := time.Now()
	if tx.TransactionID == "" {
		tx.TransactionID = idgen.WithPrefix("txn_")
	}

	ctx, span := traces.StartSpan(ctx, "engine.Score", traces.TransactionID(tx.TransactionID))
	defer span.End()

	if err := tx.Validate(); err != nil {
		var ve *feature.ValidationError
		if errors.As(err, &ve) {
			metrics.ValidationFailuresTotal.WithLabelValues(ve.Field).Inc()
		}
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, tx.Sender)
	if err != nil {
		return nil, fmt.Errorf("acquire identity lock: %w", err)
	}
	defer unlock()

	entries, degraded := s.snapshot(ctx, tx.Sender)

	last, hasPrev := history.Last(entries)
	if hasPrev {
		tx.TimeSinceLast = tx.Timestamp.Sub(last.Timestamp).Seconds()
		tx.AmountDelta = tx.Amount - last.Amount
	} else {
		tx.TimeSinceLast = 0
		tx.AmountDelta = 0
	}

	vec, err := s.transformer.Transform(tx)
	if err != nil {
		var ve *feature.ValidationError
		if errors.As(err, &ve) {
			metrics.ValidationFailuresTotal.WithLabelValues(ve.Field).Inc()
		}
		return nil, err
	}

	staticScore, contrib, seqScore, seqOK, err := s.runModels(entries, vec)
	if err != nil {
		return nil, err
	}
	if !seqOK {
		degraded = true
	}

	combined := s.combine(staticScore, seqScore, seqOK)

	ec := &rules.EvalContext{
		Tx:            tx,
		CombinedScore: combined,
		CountLastHour: history.CountSince(entries, tx.Timestamp.Add(-time.Hour)) + 1,
		HasPrevious:   hasPrev,
		PrevLatitude:  last.Latitude,
		PrevLongitude: last.Longitude,
		PrevTimestamp: last.Timestamp,
	}
	final, outcomes := s.rules.Apply(combined, ec)

	res := &Result{
		TransactionID:      tx.TransactionID,
		RiskScore:          final,
		Verdict:            s.verdict(final),
		StaticScore:        staticScore,
		SequentialScore:    seqScore,
		Factors:            s.explainer.Generate(contrib, outcomes),
		SequentialDegraded: degraded,
	}

	// The append must survive the caller giving up: a scored transaction
	// is part of the identity's history even if the client disconnected.
	appendCtx := context.WithoutCancel(ctx)
	s.append(appendCtx, tx.Sender, history.Entry{
		Vector:    vec,
		Amount:    tx.Amount,
		Latitude:  tx.Latitude,
		Longitude: tx.Longitude,
		Timestamp: tx.Timestamp,
	})

	span.SetAttributes(traces.RiskScore(final), traces.Verdict(res.Verdict), traces.Degraded(degraded))
	s.record(appendCtx, tx, res, outcomes)
	s.observe(res, outcomes, time.Since(start))
	return res, nil
}

// snapshot reads the identity's window, retrying once on a transient store
// failure. On double failure it degrades to an empty history rather than
// failing the request.
func (s *Service) snapshot(ctx context.Context, identity string) ([]history.Entry, bool) {
	entries, err := s.store.Snapshot(ctx, identity)
	if err == nil {
		return entries, false
	}

	var se *history.StoreError
	if errors.As(err, &se) {
		if entries, err = s.store.Snapshot(ctx, identity); err == nil {
			return entries, false
		}
	}

	logging.L(ctx).Warn("history snapshot failed, scoring degraded",
		"sender_hash", hashIdentity(identity), "error", err)
	metrics.DegradedSnapshotsTotal.Inc()
	return nil, true
}

// append writes the scored entry to the identity's window, retrying once on
// a transient store failure. The lock is still held here, so the retry
// cannot interleave with another request for the same identity. A double
// failure is logged and the entry is dropped; the response already shipped.
func (s *Service) append(ctx context.Context, identity string, e history.Entry) {
	err := s.store.Append(ctx, identity, e)

	var se *history.StoreError
	if err != nil && errors.As(err, &se) {
		err = s.store.Append(ctx, identity, e)
	}
	if err != nil {
		logging.L(ctx).Error("history append failed", "sender_hash", hashIdentity(identity), "error", err)
		return
	}
	metrics.HistoryWindowAppends.Inc()
}

// runModels evaluates both models concurrently. The static model is
// required; a sequential failure is survivable and reported via seqOK.
func (s *Service) runModels(entries []history.Entry, vec feature.Vector) (staticScore float64, contrib []float64, seqScore float64, seqOK bool, err error) {
	var (
		wg     sync.WaitGroup
		seqErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		window := history.BuildWindow(entries, vec, s.opts.WindowSize)
		seqScore, seqErr = s.sequential.Score(window)
	}()

	staticScore, contrib, err = s.static.PredictContrib(vec)
	wg.Wait()

	if err != nil {
		return 0, nil, 0, false, fmt.Errorf("static model: %w", err)
	}
	if seqErr != nil {
		s.logger.Error("sequential model failed", "error", seqErr)
		return staticScore, contrib, 0, false, nil
	}
	return staticScore, contrib, seqScore, true, nil
}

// combine blends the two model probabilities. When the sequential score is
// unavailable the static score carries the full weight.
func (s *Service) combine(staticScore, seqScore float64, seqOK bool) float64 {
	if !seqOK {
		return clamp01(staticScore)
	}
	return clamp01(s.opts.StaticWeight*staticScore + s.opts.SequentialWeight*seqScore)
}

func (s *Service) verdict(score float64) string {
	switch {
	case score >= s.opts.BlockThreshold:
		return VerdictBlock
	case score >= s.opts.FlagThreshold:
		return VerdictFlag
	default:
		return VerdictAllow
	}
}

// record writes the anonymized audit event and feeds the live feed. Audit
// failures are logged, never surfaced to the caller.
func (s *Service) record(ctx context.Context, tx *feature.Transaction, res *Result, outcomes []rules.Outcome) {
	names := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		names = append(names, o.Rule)
	}

	e := &audit.Event{
		ID:            idgen.WithPrefix("audit_"),
		TransactionID: tx.TransactionID,
		Amount:        tx.Amount,
		RiskScore:     res.RiskScore,
		Verdict:       res.Verdict,
		Rules:         names,
		Degraded:      res.SequentialDegraded,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.sink.Record(ctx, e); err != nil {
		logging.L(ctx).Error("audit record failed", "transaction_id", tx.TransactionID, "error", err)
	}
	if s.publish != nil {
		s.publish(e)
	}
}

func (s *Service) observe(res *Result, outcomes []rules.Outcome, elapsed time.Duration) {
	metrics.VerdictsTotal.WithLabelValues(res.Verdict).Inc()
	metrics.RiskScores.Observe(res.RiskScore)
	metrics.ScoringDuration.Observe(elapsed.Seconds())
	for _, o := range outcomes {
		metrics.RuleTriggersTotal.WithLabelValues(o.Rule).Inc()
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
