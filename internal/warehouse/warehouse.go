// Package warehouse reads candidate reviews and the tag vocabulary from the
// warehouse and writes annotation payloads and their per-tag detail rows back.
package warehouse

import (
	"context"
	"time"

	"github.com/sells-group/return-etl/internal/model"
)

// Tables the pipeline depends on.
const (
	TableSnapshot = "view_return_review_snapshot"
	TableRaw      = "return_fact_llm"
	TableDetails  = "return_fact_details"
	TableDimTag   = "return_dim_tag"
)

// Warehouse is the persistence interface for the pipeline.
//
// Writes follow a replace-by-key policy: UpsertRawPayload leaves exactly one
// row per review_id carrying the latest payload and timestamp, and
// WriteDetailRows leaves exactly the payload's fan-out for its review_id.
type Warehouse interface {
	FetchCandidates(ctx context.Context, q model.CandidateQuery) ([]model.CandidateReview, error)
	UpsertRawPayload(ctx context.Context, p model.LLMPayload) error
	FetchRawPayloads(ctx context.Context, limit int) ([]model.LLMPayload, error)
	WriteDetailRows(ctx context.Context, p model.LLMPayload) error
	FetchTagVocabulary(ctx context.Context, filters []model.TagFilter) (model.Vocabulary, error)
	UpsertTags(ctx context.Context, records []model.TagRecord) (int, error)

	Migrate(ctx context.Context) error
	Close() error
}

var detailColumns = []string{
	"review_id", "tag_code", "review_source", "review_en", "review_cn",
	"sentiment", "tag_name_cn", "evidence", "created_at", "updated_at",
}

var tagColumns = []string{
	"tag_code", "tag_name_cn", "category_code", "category_name_cn", "level",
	"definition", "boundary_note", "is_active", "version", "effective_from", "effective_to",
}

func detailValues(p model.LLMPayload, now time.Time) [][]any {
	rows := p.DetailRows()
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = []any{
			r.ReviewID, r.TagCode, r.ReviewSource, r.ReviewEN, r.ReviewCN,
			r.Sentiment, r.TagNameCN, r.Evidence, now, now,
		}
	}
	return out
}

func tagValues(rec model.TagRecord) []any {
	return []any{
		rec.TagCode, rec.TagNameCN, rec.CategoryCode, rec.CategoryNameCN, rec.Level,
		rec.Definition, rec.BoundaryNote, rec.IsActive, rec.Version, timeOrNil(rec.EffectiveFrom), timeOrNil(rec.EffectiveTo),
	}
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// vocabularyRow holds a scanned dimension row; text columns may be NULL.
type vocabularyRow struct {
	code, name, category, definition, boundary *string
}

func (r vocabularyRow) definitionOf() model.TagDefinition {
	return model.TagDefinition{
		TagCode:        deref(r.code),
		TagNameCN:      deref(r.name),
		CategoryNameCN: deref(r.category),
		Definition:     deref(r.definition),
		BoundaryNote:   deref(r.boundary),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
