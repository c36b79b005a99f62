package warehouse

import (
	"strconv"
	"strings"

	"github.com/sells-group/return-etl/internal/model"
)

// placeholderFunc renders the n-th (1-based) bind parameter.
type placeholderFunc func(n int) string

func questionPlaceholder(int) string { return "?" }

func dollarPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

func candidatesQuery(q model.CandidateQuery, ph placeholderFunc) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if q.Country != "" {
		args = append(args, q.Country)
		conds = append(conds, "country = "+ph(len(args)))
	}
	if q.FASIN != "" {
		args = append(args, q.FASIN)
		conds = append(conds, "fasin = "+ph(len(args)))
	}

	var b strings.Builder
	b.WriteString("SELECT review_id, review_source, review_en FROM ")
	b.WriteString(TableSnapshot)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	args = append(args, q.EffectiveLimit())
	b.WriteString(" ORDER BY review_date DESC LIMIT ")
	b.WriteString(ph(len(args)))
	return b.String(), args
}

// vocabularyQuery validates filters before building anything so a bad filter
// never reaches the database.
func vocabularyQuery(filters []model.TagFilter, ph placeholderFunc) (string, []any, error) {
	if err := model.ValidateTagFilters(filters); err != nil {
		return "", nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT tag_code, tag_name_cn, category_name_cn, definition, boundary_note FROM ")
	b.WriteString(TableDimTag)
	b.WriteString(" WHERE is_active = 1")

	args := make([]any, 0, len(filters))
	for _, f := range filters {
		args = append(args, f.Value)
		b.WriteString(" AND ")
		b.WriteString(f.Field)
		b.WriteString(" = ")
		b.WriteString(ph(len(args)))
	}
	b.WriteString(" ORDER BY tag_code")
	return b.String(), args, nil
}

func payloadsQuery(limit int, ph placeholderFunc) (string, []any) {
	if limit <= 0 {
		limit = model.DefaultLimit
	}
	return "SELECT payload FROM " + TableRaw + " ORDER BY created_at DESC LIMIT " + ph(1), []any{limit}
}

func insertValuesSQL(table string, columns []string, rows int, ph placeholderFunc) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(columns, ", "))
	b.WriteString(") VALUES ")
	n := 0
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for c := range columns {
			if c > 0 {
				b.WriteString(", ")
			}
			n++
			b.WriteString(ph(n))
		}
		b.WriteString(")")
	}
	return b.String()
}
