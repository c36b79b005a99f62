package warehouse

import (
	"context"
	"database/sql"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/return-etl/internal/failure"
	"github.com/sells-group/return-etl/internal/model"
)

// dialect captures the per-engine differences of the database/sql backends.
type dialect struct {
	name string
	// rawUpsert replaces a raw payload row in one statement; empty means
	// delete-then-insert.
	rawUpsert string
	// tagUpsert replaces a tag dimension row in one statement; empty means
	// delete-then-insert.
	tagUpsert string
	// transactional runs statement groups inside a transaction.
	transactional bool
	migration     string
}

// Doris speaks the MySQL protocol but its unique-key tables reject
// ON CONFLICT / ON DUPLICATE KEY, and explicit transactions only cover
// INSERT, so statement groups run as autocommitted statements.
var mysqlDialect = dialect{
	name: "mysql",
}

var sqliteDialect = dialect{
	name: "sqlite",
	rawUpsert: `INSERT INTO ` + TableRaw + ` (review_id, payload, created_at) VALUES (?, ?, ?)
		ON CONFLICT (review_id) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at`,
	tagUpsert: `INSERT INTO ` + TableDimTag + ` (tag_code, tag_name_cn, category_code, category_name_cn, level,
		definition, boundary_note, is_active, version, effective_from, effective_to)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tag_code) DO UPDATE SET
			tag_name_cn = excluded.tag_name_cn,
			category_code = excluded.category_code,
			category_name_cn = excluded.category_name_cn,
			level = excluded.level,
			definition = excluded.definition,
			boundary_note = excluded.boundary_note,
			is_active = excluded.is_active,
			version = excluded.version,
			effective_from = excluded.effective_from,
			effective_to = excluded.effective_to`,
	transactional: true,
	migration:     sqliteMigration,
}

// SQLWarehouse implements Warehouse over database/sql for Doris (MySQL
// protocol) and SQLite.
type SQLWarehouse struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

var _ Warehouse = (*SQLWarehouse)(nil)

// MySQLDSN builds a go-sql-driver DSN for a Doris frontend.
func MySQLDSN(host string, port int, database, username, password string) string {
	cfg := mysql.NewConfig()
	cfg.User = username
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	cfg.DBName = database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// OpenMySQL connects to a Doris frontend over the MySQL protocol.
func OpenMySQL(ctx context.Context, dsn string) (*SQLWarehouse, error) {
	return openSQL(ctx, "mysql", dsn, mysqlDialect)
}

// OpenSQLite opens a SQLite database file, mainly for local runs and tests.
func OpenSQLite(ctx context.Context, path string) (*SQLWarehouse, error) {
	w, err := openSQL(ctx, "sqlite", path, sqliteDialect)
	if err != nil {
		return nil, err
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := w.db.ExecContext(ctx, pragma); err != nil {
			w.db.Close() //nolint:errcheck
			return nil, failure.Wrapf(failure.KindConnectivity, err, "sqlite: exec %s", pragma)
		}
	}
	return w, nil
}

func openSQL(ctx context.Context, driver, dsn string, d dialect) (*SQLWarehouse, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, failure.Wrapf(failure.KindConnectivity, err, "%s: open", d.name)
	}
	// One connection per run.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, failure.Wrapf(failure.KindConnectivity, err, "%s: ping", d.name)
	}
	return &SQLWarehouse{db: db, dialect: d, now: time.Now}, nil
}

// Close releases the connection.
func (w *SQLWarehouse) Close() error {
	return eris.Wrapf(w.db.Close(), "%s: close", w.dialect.name)
}

// Migrate creates the pipeline tables. Doris schemas are owned by the
// warehouse team, so the mysql dialect refuses.
func (w *SQLWarehouse) Migrate(ctx context.Context) error {
	if w.dialect.migration == "" {
		return failure.Errorf(failure.KindPrecondition, "%s: migrate is not supported; tables are managed in the warehouse", w.dialect.name)
	}
	_, err := w.db.ExecContext(ctx, w.dialect.migration)
	return failure.Wrapf(failure.KindConnectivity, err, "%s: migrate", w.dialect.name)
}

func (w *SQLWarehouse) FetchCandidates(ctx context.Context, q model.CandidateQuery) ([]model.CandidateReview, error) {
	query, args := candidatesQuery(q, questionPlaceholder)
	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, failure.Wrapf(failure.KindConnectivity, err, "%s: fetch candidates", w.dialect.name)
	}
	defer rows.Close()

	var out []model.CandidateReview
	for rows.Next() {
		var c model.CandidateReview
		if err := rows.Scan(&c.ReviewID, &c.ReviewSource, &c.ReviewEN); err != nil {
			return nil, failure.Wrapf(failure.KindConnectivity, err, "%s: scan candidate", w.dialect.name)
		}
		out = append(out, c)
	}
	return out, failure.Wrapf(failure.KindConnectivity, rows.Err(), "%s: iterate candidates", w.dialect.name)
}

func (w *SQLWarehouse) UpsertRawPayload(ctx context.Context, p model.LLMPayload) error {
	body, err := p.JSON()
	if err != nil {
		return failure.Wrap(failure.KindData, err, "warehouse: encode payload")
	}
	now := w.now().UTC()

	return w.group(ctx, "upsert raw payload "+p.ReviewID, func(ex execer) error {
		if w.dialect.rawUpsert != "" {
			_, err := ex.ExecContext(ctx, w.dialect.rawUpsert, p.ReviewID, body, now)
			return err
		}
		if _, err := ex.ExecContext(ctx, "DELETE FROM "+TableRaw+" WHERE review_id = ?", p.ReviewID); err != nil {
			return err
		}
		_, err := ex.ExecContext(ctx, "INSERT INTO "+TableRaw+" (review_id, payload, created_at) VALUES (?, ?, ?)", p.ReviewID, body, now)
		return err
	})
}

func (w *SQLWarehouse) FetchRawPayloads(ctx context.Context, limit int) ([]model.LLMPayload, error) {
	query, args := payloadsQuery(limit, questionPlaceholder)
	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, failure.Wrapf(failure.KindConnectivity, err, "%s: fetch payloads", w.dialect.name)
	}
	defer rows.Close()

	var out []model.LLMPayload
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, failure.Wrapf(failure.KindConnectivity, err, "%s: scan payload", w.dialect.name)
		}
		p, err := model.ParsePayload([]byte(body))
		if err != nil {
			return nil, eris.Wrapf(err, "%s: stored payload", w.dialect.name)
		}
		out = append(out, p)
	}
	return out, failure.Wrapf(failure.KindConnectivity, rows.Err(), "%s: iterate payloads", w.dialect.name)
}

func (w *SQLWarehouse) WriteDetailRows(ctx context.Context, p model.LLMPayload) error {
	values := detailValues(p, w.now().UTC())
	insert := insertValuesSQL(TableDetails, detailColumns, len(values), questionPlaceholder)
	args := make([]any, 0, len(values)*len(detailColumns))
	for _, v := range values {
		args = append(args, v...)
	}

	return w.group(ctx, "write detail rows "+p.ReviewID, func(ex execer) error {
		if _, err := ex.ExecContext(ctx, "DELETE FROM "+TableDetails+" WHERE review_id = ?", p.ReviewID); err != nil {
			return err
		}
		_, err := ex.ExecContext(ctx, insert, args...)
		return err
	})
}

func (w *SQLWarehouse) FetchTagVocabulary(ctx context.Context, filters []model.TagFilter) (model.Vocabulary, error) {
	query, args, err := vocabularyQuery(filters, questionPlaceholder)
	if err != nil {
		return nil, err
	}
	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, failure.Wrapf(failure.KindConnectivity, err, "%s: fetch tag vocabulary", w.dialect.name)
	}
	defer rows.Close()

	vocab := model.Vocabulary{}
	for rows.Next() {
		var r vocabularyRow
		if err := rows.Scan(&r.code, &r.name, &r.category, &r.definition, &r.boundary); err != nil {
			return nil, failure.Wrapf(failure.KindConnectivity, err, "%s: scan tag", w.dialect.name)
		}
		d := r.definitionOf()
		vocab[d.TagCode] = d
	}
	return vocab, failure.Wrapf(failure.KindConnectivity, rows.Err(), "%s: iterate tags", w.dialect.name)
}

func (w *SQLWarehouse) UpsertTags(ctx context.Context, records []model.TagRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	insert := insertValuesSQL(TableDimTag, tagColumns, 1, questionPlaceholder)

	err := w.group(ctx, "upsert tags", func(ex execer) error {
		for _, rec := range records {
			if w.dialect.tagUpsert != "" {
				if _, err := ex.ExecContext(ctx, w.dialect.tagUpsert, tagValues(rec)...); err != nil {
					return eris.Wrapf(err, "tag %s", rec.TagCode)
				}
				continue
			}
			if _, err := ex.ExecContext(ctx, "DELETE FROM "+TableDimTag+" WHERE tag_code = ?", rec.TagCode); err != nil {
				return eris.Wrapf(err, "tag %s", rec.TagCode)
			}
			if _, err := ex.ExecContext(ctx, insert, tagValues(rec)...); err != nil {
				return eris.Wrapf(err, "tag %s", rec.TagCode)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// group runs fn as one logical operation, inside a transaction when the
// dialect supports it. Failures are connectivity errors.
func (w *SQLWarehouse) group(ctx context.Context, op string, fn func(execer) error) error {
	if !w.dialect.transactional {
		return failure.Wrapf(failure.KindConnectivity, fn(w.db), "%s: %s", w.dialect.name, op)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return failure.Wrapf(failure.KindConnectivity, err, "%s: %s: begin tx", w.dialect.name, op)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return failure.Wrapf(failure.KindConnectivity, err, "%s: %s", w.dialect.name, op)
	}
	return failure.Wrapf(failure.KindConnectivity, tx.Commit(), "%s: %s: commit", w.dialect.name, op)
}
