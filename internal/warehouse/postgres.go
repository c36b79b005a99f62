package warehouse

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/return-etl/internal/db"
	"github.com/sells-group/return-etl/internal/failure"
	"github.com/sells-group/return-etl/internal/model"
)

const postgresRawUpsert = `INSERT INTO ` + TableRaw + ` (review_id, payload, created_at) VALUES ($1, $2, $3)
	ON CONFLICT (review_id) DO UPDATE SET payload = EXCLUDED.payload, created_at = EXCLUDED.created_at`

// PostgresWarehouse implements Warehouse using pgx.
type PostgresWarehouse struct {
	pool db.Pool
	now  func() time.Time
}

var _ Warehouse = (*PostgresWarehouse)(nil)

// NewPostgres connects a pool capped at maxConns (default 1).
func NewPostgres(ctx context.Context, connString string, maxConns int32) (*PostgresWarehouse, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, failure.Wrap(failure.KindConfig, err, "postgres: parse config")
	}
	if maxConns <= 0 {
		maxConns = 1
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = 1
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, failure.Wrap(failure.KindConnectivity, err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, failure.Wrap(failure.KindConnectivity, err, "postgres: ping")
	}
	return NewPostgresFromPool(pool), nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool) *PostgresWarehouse {
	return &PostgresWarehouse{pool: pool, now: time.Now}
}

func (w *PostgresWarehouse) Close() error {
	w.pool.Close()
	return nil
}

func (w *PostgresWarehouse) Migrate(ctx context.Context) error {
	_, err := w.pool.Exec(ctx, postgresMigration)
	return failure.Wrap(failure.KindConnectivity, err, "postgres: migrate")
}

func (w *PostgresWarehouse) FetchCandidates(ctx context.Context, q model.CandidateQuery) ([]model.CandidateReview, error) {
	query, args := candidatesQuery(q, dollarPlaceholder)
	rows, err := w.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, failure.Wrap(failure.KindConnectivity, err, "postgres: fetch candidates")
	}
	defer rows.Close()

	var out []model.CandidateReview
	for rows.Next() {
		var c model.CandidateReview
		if err := rows.Scan(&c.ReviewID, &c.ReviewSource, &c.ReviewEN); err != nil {
			return nil, failure.Wrap(failure.KindConnectivity, err, "postgres: scan candidate")
		}
		out = append(out, c)
	}
	return out, failure.Wrap(failure.KindConnectivity, rows.Err(), "postgres: iterate candidates")
}

func (w *PostgresWarehouse) UpsertRawPayload(ctx context.Context, p model.LLMPayload) error {
	body, err := p.JSON()
	if err != nil {
		return failure.Wrap(failure.KindData, err, "postgres: encode payload")
	}
	_, err = w.pool.Exec(ctx, postgresRawUpsert, p.ReviewID, body, w.now().UTC())
	return failure.Wrapf(failure.KindConnectivity, err, "postgres: upsert raw payload %s", p.ReviewID)
}

func (w *PostgresWarehouse) FetchRawPayloads(ctx context.Context, limit int) ([]model.LLMPayload, error) {
	query, args := payloadsQuery(limit, dollarPlaceholder)
	rows, err := w.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, failure.Wrap(failure.KindConnectivity, err, "postgres: fetch payloads")
	}
	defer rows.Close()

	var out []model.LLMPayload
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, failure.Wrap(failure.KindConnectivity, err, "postgres: scan payload")
		}
		p, err := model.ParsePayload([]byte(body))
		if err != nil {
			return nil, eris.Wrap(err, "postgres: stored payload")
		}
		out = append(out, p)
	}
	return out, failure.Wrap(failure.KindConnectivity, rows.Err(), "postgres: iterate payloads")
}

// WriteDetailRows replaces the review's detail rows: DELETE then COPY inside
// one transaction.
func (w *PostgresWarehouse) WriteDetailRows(ctx context.Context, p model.LLMPayload) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return failure.Wrap(failure.KindConnectivity, err, "postgres: write detail rows: begin tx")
	}

	if _, err := tx.Exec(ctx, `DELETE FROM `+TableDetails+` WHERE review_id = $1`, p.ReviewID); err != nil {
		_ = tx.Rollback(ctx)
		return failure.Wrapf(failure.KindConnectivity, err, "postgres: delete detail rows %s", p.ReviewID)
	}
	if _, err := db.CopyFrom(ctx, tx, TableDetails, detailColumns, detailValues(p, w.now().UTC())); err != nil {
		_ = tx.Rollback(ctx)
		return failure.Wrapf(failure.KindConnectivity, err, "postgres: insert detail rows %s", p.ReviewID)
	}
	return failure.Wrap(failure.KindConnectivity, tx.Commit(ctx), "postgres: write detail rows: commit")
}

func (w *PostgresWarehouse) FetchTagVocabulary(ctx context.Context, filters []model.TagFilter) (model.Vocabulary, error) {
	query, args, err := vocabularyQuery(filters, dollarPlaceholder)
	if err != nil {
		return nil, err
	}
	rows, err := w.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, failure.Wrap(failure.KindConnectivity, err, "postgres: fetch tag vocabulary")
	}
	defer rows.Close()

	vocab := model.Vocabulary{}
	for rows.Next() {
		var r vocabularyRow
		if err := rows.Scan(&r.code, &r.name, &r.category, &r.definition, &r.boundary); err != nil {
			return nil, failure.Wrap(failure.KindConnectivity, err, "postgres: scan tag")
		}
		d := r.definitionOf()
		vocab[d.TagCode] = d
	}
	return vocab, failure.Wrap(failure.KindConnectivity, rows.Err(), "postgres: iterate tags")
}

func (w *PostgresWarehouse) UpsertTags(ctx context.Context, records []model.TagRecord) (int, error) {
	rows := make([][]any, len(records))
	for i, rec := range records {
		rows[i] = tagValues(rec)
	}
	_, err := db.BulkUpsert(ctx, w.pool, db.UpsertConfig{
		Table:        TableDimTag,
		Columns:      tagColumns,
		ConflictKeys: []string{"tag_code"},
	}, rows)
	if err != nil {
		return 0, failure.Wrap(failure.KindConnectivity, err, "postgres: upsert tags")
	}
	return len(records), nil
}
