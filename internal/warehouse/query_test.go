package warehouse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/return-etl/internal/failure"
	"github.com/sells-group/return-etl/internal/model"
)

func TestCandidatesQuery(t *testing.T) {
	tests := []struct {
		name     string
		q        model.CandidateQuery
		ph       placeholderFunc
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "no filters uses default limit",
			q:        model.CandidateQuery{},
			ph:       questionPlaceholder,
			wantSQL:  "SELECT review_id, review_source, review_en FROM view_return_review_snapshot ORDER BY review_date DESC LIMIT ?",
			wantArgs: []any{200},
		},
		{
			name:     "country only",
			q:        model.CandidateQuery{Limit: 10, Country: "US"},
			ph:       questionPlaceholder,
			wantSQL:  "SELECT review_id, review_source, review_en FROM view_return_review_snapshot WHERE country = ? ORDER BY review_date DESC LIMIT ?",
			wantArgs: []any{"US", 10},
		},
		{
			name:     "country and fasin with dollar placeholders",
			q:        model.CandidateQuery{Limit: 5, Country: "US", FASIN: "B0001"},
			ph:       dollarPlaceholder,
			wantSQL:  "SELECT review_id, review_source, review_en FROM view_return_review_snapshot WHERE country = $1 AND fasin = $2 ORDER BY review_date DESC LIMIT $3",
			wantArgs: []any{"US", "B0001", 5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := candidatesQuery(tt.q, tt.ph)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestVocabularyQuery(t *testing.T) {
	sql, args, err := vocabularyQuery([]model.TagFilter{
		{Field: "category_code", Operator: "EQ", Value: "QUALITY"},
		{Field: "level", Value: 2},
	}, dollarPlaceholder)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT tag_code, tag_name_cn, category_name_cn, definition, boundary_note FROM return_dim_tag WHERE is_active = 1 AND category_code = $1 AND level = $2 ORDER BY tag_code",
		sql)
	assert.Equal(t, []any{"QUALITY", 2}, args)
}

func TestVocabularyQuery_NoFilters(t *testing.T) {
	sql, args, err := vocabularyQuery(nil, questionPlaceholder)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT tag_code, tag_name_cn, category_name_cn, definition, boundary_note FROM return_dim_tag WHERE is_active = 1 ORDER BY tag_code",
		sql)
	assert.Empty(t, args)
}

func TestVocabularyQuery_RejectsBadFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter model.TagFilter
		want   string
	}{
		{"operator", model.TagFilter{Field: "level", Operator: ">", Value: 1}, "unsupported tag filter operator"},
		{"field", model.TagFilter{Field: "1=1; DROP TABLE x", Operator: "eq", Value: 1}, "unsupported tag filter field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := vocabularyQuery([]model.TagFilter{tt.filter}, questionPlaceholder)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, failure.KindPrecondition, failure.KindOf(err))
		})
	}
}

func TestPayloadsQuery(t *testing.T) {
	sql, args := payloadsQuery(0, questionPlaceholder)
	assert.Equal(t, "SELECT payload FROM return_fact_llm ORDER BY created_at DESC LIMIT ?", sql)
	assert.Equal(t, []any{200}, args)

	_, args = payloadsQuery(7, dollarPlaceholder)
	assert.Equal(t, []any{7}, args)
}

func TestInsertValuesSQL(t *testing.T) {
	assert.Equal(t,
		"INSERT INTO t (a, b) VALUES (?, ?), (?, ?)",
		insertValuesSQL("t", []string{"a", "b"}, 2, questionPlaceholder))
	assert.Equal(t,
		"INSERT INTO t (a, b) VALUES ($1, $2), ($3, $4)",
		insertValuesSQL("t", []string{"a", "b"}, 2, dollarPlaceholder))
}
