// Package pipeline composes the warehouse and the annotation client into the
// run steps: fetch candidates, annotate, parse into detail rows and replay.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/return-etl/internal/annotate"
	"github.com/sells-group/return-etl/internal/failure"
	"github.com/sells-group/return-etl/internal/model"
	"github.com/sells-group/return-etl/internal/warehouse"
)

// Annotator produces a payload for one review.
type Annotator interface {
	Annotate(ctx context.Context, review model.CandidateReview, vocab model.Vocabulary, instructions string, sink annotate.RequestSink) (model.LLMPayload, error)
}

// Runner executes pipeline steps sequentially, one record at a time.
type Runner struct {
	wh        warehouse.Warehouse
	annotator Annotator
	log       *zap.Logger
}

// NewRunner creates a Runner. annotator may be nil for steps that never call
// the LLM.
func NewRunner(wh warehouse.Warehouse, annotator Annotator, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{wh: wh, annotator: annotator, log: log}
}

// AnnotateOptions controls the annotate step.
type AnnotateOptions struct {
	// Instructions replaces the default prompt instructions when non-blank.
	Instructions string
	// WriteToDB upserts each payload into the raw table before the next
	// candidate is annotated.
	WriteToDB bool
	// Sink, if set, receives every outgoing request body.
	Sink annotate.RequestSink
}

// ParseResult summarizes a parse step.
type ParseResult struct {
	Payloads int
	Rows     int
}

// FetchCandidates reads candidate reviews from the snapshot view.
func (r *Runner) FetchCandidates(ctx context.Context, q model.CandidateQuery) ([]model.CandidateReview, error) {
	candidates, err := r.wh.FetchCandidates(ctx, q)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: fetch candidates")
	}
	r.log.Info("pipeline: fetched candidates",
		zap.Int("count", len(candidates)),
		zap.Int("limit", q.EffectiveLimit()),
		zap.String("country", q.Country),
		zap.String("fasin", q.FASIN),
	)
	return candidates, nil
}

// Vocabulary reads the active tag vocabulary.
func (r *Runner) Vocabulary(ctx context.Context, filters []model.TagFilter) (model.Vocabulary, error) {
	vocab, err := r.wh.FetchTagVocabulary(ctx, filters)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: fetch tag vocabulary")
	}
	r.log.Info("pipeline: loaded tag vocabulary", zap.Int("tags", len(vocab)), zap.Int("filters", len(filters)))
	return vocab, nil
}

// Annotate calls the annotator once per candidate in input order. An empty
// vocabulary fails before any I/O. The first failure stops the step; payloads
// already written to the warehouse stay there.
func (r *Runner) Annotate(ctx context.Context, candidates []model.CandidateReview, vocab model.Vocabulary, opts AnnotateOptions) ([]model.LLMPayload, error) {
	if len(vocab) == 0 {
		return nil, failure.New(failure.KindPrecondition, "pipeline: annotate: tag vocabulary is empty")
	}
	if r.annotator == nil {
		return nil, failure.New(failure.KindConfig, "pipeline: annotate: no annotator configured")
	}

	start := time.Now()
	payloads := make([]model.LLMPayload, 0, len(candidates))
	for i, c := range candidates {
		p, err := r.annotator.Annotate(ctx, c, vocab, opts.Instructions, opts.Sink)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: annotate %d/%d", i+1, len(candidates))
		}
		if opts.WriteToDB {
			if err := r.wh.UpsertRawPayload(ctx, p); err != nil {
				return nil, eris.Wrapf(err, "pipeline: store payload %s", p.ReviewID)
			}
		}
		r.log.Debug("pipeline: annotated review",
			zap.String("review_id", p.ReviewID),
			zap.Int("sentiment", p.Sentiment),
			zap.Int("tags", len(p.Tags)),
		)
		payloads = append(payloads, p)
	}

	r.log.Info("pipeline: annotation complete",
		zap.Int("count", len(payloads)),
		zap.Bool("write_to_db", opts.WriteToDB),
		zap.Duration("elapsed", time.Since(start)),
	)
	return payloads, nil
}

// Parse writes detail rows for each payload. A nil slice means read up to
// limit payloads from the raw table; a non-nil empty slice writes nothing.
// Re-running with the same payloads leaves the detail table unchanged.
func (r *Runner) Parse(ctx context.Context, payloads []model.LLMPayload, limit int) (ParseResult, error) {
	if payloads == nil {
		var err error
		payloads, err = r.wh.FetchRawPayloads(ctx, limit)
		if err != nil {
			return ParseResult{}, eris.Wrap(err, "pipeline: parse: load payloads")
		}
		r.log.Info("pipeline: loaded payloads from warehouse", zap.Int("count", len(payloads)))
	}

	var res ParseResult
	for _, p := range payloads {
		if err := r.wh.WriteDetailRows(ctx, p); err != nil {
			return res, eris.Wrapf(err, "pipeline: parse %s", p.ReviewID)
		}
		res.Payloads++
		res.Rows += len(p.DetailRows())
	}

	r.log.Info("pipeline: detail rows written", zap.Int("payloads", res.Payloads), zap.Int("rows", res.Rows))
	return res, nil
}

// ReplayRaw upserts previously captured payloads into the raw table without
// calling the LLM.
func (r *Runner) ReplayRaw(ctx context.Context, payloads []model.LLMPayload) (int, error) {
	for i, p := range payloads {
		if err := r.wh.UpsertRawPayload(ctx, p); err != nil {
			return i, eris.Wrapf(err, "pipeline: replay %s", p.ReviewID)
		}
	}
	r.log.Info("pipeline: replayed raw payloads", zap.Int("count", len(payloads)))
	return len(payloads), nil
}
