//go:build !integration

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/return-etl/internal/config"
	"github.com/sells-group/return-etl/internal/model"
	"github.com/sells-group/return-etl/internal/warehouse"
)

const defectReply = `{"review_id":"R1","review_source":1,"review_en":"broken on arrival","review_cn":"到货即损坏","sentiment":-1,` +
	`"tags":[{"tag_code":"DEFECT","tag_name_cn":"损坏","evidence":"broken on arrival"}]}`

// useTestConfig points the package globals at a fresh sqlite warehouse and
// restores them when the test ends.
func useTestConfig(t *testing.T, llmURL string) string {
	t.Helper()
	origCfg, origLogger := cfg, logger
	t.Cleanup(func() { cfg, logger = origCfg, origLogger })

	path := filepath.Join(t.TempDir(), "wh.db")
	cfg = &config.Config{
		Warehouse: config.WarehouseConfig{Driver: "sqlite", DSN: path},
		LLM: config.LLMConfig{
			Provider:    "deepseek",
			BaseURL:     llmURL,
			APIKey:      "sk-test",
			Model:       "deepseek-chat",
			TimeoutSecs: 5,
			UnknownTags: "drop",
		},
		Log: config.LogConfig{Level: "error", Format: "json"},
	}
	logger = zap.NewNop()
	return path
}

// seedWarehouse migrates the sqlite file and loads one review and one tag.
func seedWarehouse(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()
	wh, err := warehouse.OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer wh.Close() //nolint:errcheck

	require.NoError(t, wh.Migrate(ctx))
	_, err = wh.UpsertTags(ctx, []model.TagRecord{{TagCode: "DEFECT", TagNameCN: "损坏", CategoryCode: "QUALITY", Level: 2, IsActive: 1, Version: 1}})
	require.NoError(t, err)

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck
	_, err = db.Exec(`INSERT INTO return_review (review_id, review_source, review_en, review_date, country, fasin) VALUES (?, ?, ?, ?, ?, ?)`,
		"R1", 1, "broken on arrival", "2025-01-01", "US", "B001")
	require.NoError(t, err)
}

func countTable(t *testing.T, path, table string) int {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

// newLLMServer serves a fixed chat completion and counts requests.
func newLLMServer(t *testing.T, reply string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id": "cmpl-1",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": reply}},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}
