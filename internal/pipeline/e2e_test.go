package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/return-etl/internal/annotate"
	"github.com/sells-group/return-etl/internal/model"
	"github.com/sells-group/return-etl/internal/snapshot"
	"github.com/sells-group/return-etl/internal/warehouse"
	"github.com/sells-group/return-etl/pkg/deepseek"
)

const defectReply = `{"review_id":"R1","review_source":1,"review_en":"broken on arrival","review_cn":"到货即损坏","sentiment":-1,` +
	`"tags":[{"tag_code":"DEFECT","tag_name_cn":"损坏","evidence":"broken on arrival"}]}`

func newDeepSeekServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id": "cmpl-1",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": reply}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newSQLiteWarehouse(t *testing.T) (*warehouse.SQLWarehouse, string) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wh.db")
	wh, err := warehouse.OpenSQLite(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { wh.Close() }) //nolint:errcheck
	require.NoError(t, wh.Migrate(ctx))
	_, err = wh.UpsertTags(ctx, []model.TagRecord{{TagCode: "DEFECT", TagNameCN: "损坏", Level: 2, IsActive: 1, Version: 1}})
	require.NoError(t, err)

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck
	_, err = db.Exec(`INSERT INTO return_review (review_id, review_source, review_en, review_date, country, fasin) VALUES (?, ?, ?, ?, ?, ?)`,
		"R1", 1, "broken on arrival", "2025-01-01", "US", "B001")
	require.NoError(t, err)
	return wh, path
}

// countRows counts raw and detail rows for a review through a separate
// connection to the same database file.
func countRows(t *testing.T, path, reviewID string) (raw, details int, detailTags []string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM return_fact_llm WHERE review_id = ?`, reviewID).Scan(&raw))
	rows, err := db.Query(`SELECT tag_code FROM return_fact_details WHERE review_id = ?`, reviewID)
	require.NoError(t, err)
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var tag string
		require.NoError(t, rows.Scan(&tag))
		detailTags = append(detailTags, tag)
	}
	require.NoError(t, rows.Err())
	return raw, len(detailTags), detailTags
}

func TestEndToEnd_FetchAnnotateParse(t *testing.T) {
	ctx := context.Background()
	wh, path := newSQLiteWarehouse(t)
	srv := newDeepSeekServer(t, defectReply)

	client := annotate.New(annotate.NewDeepSeekBackend(deepseek.NewClient("k", deepseek.WithBaseURL(srv.URL)), ""))
	r := NewRunner(wh, client, zap.NewNop())

	candidates, err := r.FetchCandidates(ctx, model.CandidateQuery{Country: "US"})
	require.NoError(t, err)
	require.Equal(t, []model.CandidateReview{{ReviewID: "R1", ReviewSource: 1, ReviewEN: "broken on arrival"}}, candidates)

	v, err := r.Vocabulary(ctx, nil)
	require.NoError(t, err)

	logPath := filepath.Join(t.TempDir(), "requests.jsonl")
	sink, err := snapshot.OpenRequestLog(logPath)
	require.NoError(t, err)

	payloads, err := r.Annotate(ctx, candidates, v, AnnotateOptions{WriteToDB: true, Sink: sink})
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	require.Len(t, payloads, 1)
	assert.Equal(t, -1, payloads[0].Sentiment)

	res, err := r.Parse(ctx, payloads, 0)
	require.NoError(t, err)
	assert.Equal(t, ParseResult{Payloads: 1, Rows: 1}, res)

	raw, details, tags := countRows(t, path, "R1")
	assert.Equal(t, 1, raw)
	assert.Equal(t, 1, details)
	assert.Equal(t, []string{"DEFECT"}, tags)

	logged, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(logged), "\n"))
	assert.Contains(t, string(logged), `"response_format":{"type":"json_object"}`)

	// Re-running the whole chain leaves one raw row and one detail row.
	payloads, err = r.Annotate(ctx, candidates, v, AnnotateOptions{WriteToDB: true})
	require.NoError(t, err)
	_, err = r.Parse(ctx, nil, 10)
	require.NoError(t, err)

	raw, details, _ = countRows(t, path, "R1")
	assert.Equal(t, 1, raw)
	assert.Equal(t, 1, details)

	// The stored payload round-trips and fans out to (R1, DEFECT).
	stored, err := wh.FetchRawPayloads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, payloads[0], stored[0])
	require.Len(t, stored[0].DetailRows(), 1)
	assert.Equal(t, "DEFECT", stored[0].DetailRows()[0].TagCode)
}

func TestEndToEnd_SnapshotReplay(t *testing.T) {
	ctx := context.Background()
	wh, dbPath := newSQLiteWarehouse(t)
	r := NewRunner(wh, nil, zap.NewNop())

	path := filepath.Join(t.TempDir(), "payloads.jsonl")
	in := []model.LLMPayload{{ReviewID: "R1", ReviewSource: 1, ReviewEN: "broken on arrival", Sentiment: -1,
		Tags: []model.TagFragment{{TagCode: "DEFECT", TagNameCN: "损坏", Evidence: "broken"}}}}
	require.NoError(t, snapshot.WritePayloads(path, in))

	replay, err := snapshot.ReadPayloads(path)
	require.NoError(t, err)
	n, err := r.ReplayRaw(ctx, replay)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	res, err := r.Parse(ctx, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rows)

	raw, details, _ := countRows(t, dbPath, "R1")
	assert.Equal(t, 1, raw)
	assert.Equal(t, 1, details)
}
