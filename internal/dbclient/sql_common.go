package dbclient

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"doctransfer/internal/document"
	"doctransfer/internal/transfer"
)

// ── SQL dialects ───────────────────────────────────────────

// dialect captures what differs between the SQL drivers.
type dialect struct {
	driver string
	// placeholder returns the n-th (1-based) bind parameter.
	placeholder func(n int) string
	quote       func(ident string) string
	// unlimited is the LIMIT clause used when only OFFSET is wanted.
	unlimited string
	// tables lists the tables of the current database.
	tables string
}

func questionMark(int) string { return "?" }

func doubleQuote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// sqlConnector is the read-only source shared by MySQL, Postgres and SQLite.
// Tables are read as collections; each row becomes one document.
type sqlConnector struct {
	dialect dialect
	db      *sql.DB
}

// newSQLConnector creates a generic SQL connector.
func newSQLConnector(d dialect, dsn string) (*sqlConnector, error) {
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.driver, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)
	return &sqlConnector{dialect: d, db: db}, nil
}

func (c *sqlConnector) URI() string { return "" }

func (c *sqlConnector) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.db.PingContext(ctx)
}

// Collections lists tables. The database argument is ignored: a SQL
// connection is bound to one database.
func (c *sqlConnector) Collections(ctx context.Context, _ string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	rows, err := c.db.QueryContext(ctx, c.dialect.tables)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (c *sqlConnector) Destination(context.Context, string, string, transfer.DestinationOptions) (transfer.Destination, error) {
	return nil, ErrReadOnly
}

func (c *sqlConnector) Close() error {
	return c.db.Close()
}

// ── Source ─────────────────────────────────────────────────

func (c *sqlConnector) Source(_ context.Context, _ string, table string, q transfer.ParsedQuery, limit int64) (transfer.Source, error) {
	where, args, err := c.where(q.Filter)
	if err != nil {
		return nil, err
	}
	cols, err := c.selectList(q.Projection)
	if err != nil {
		return nil, err
	}
	return &sqlSource{
		conn:    c,
		table:   table,
		columns: cols,
		where:   where,
		args:    args,
		order:   c.orderBy(q.Sort),
		limit:   limit,
	}, nil
}

// where turns an equality filter into a WHERE clause.
func (c *sqlConnector) where(filter document.Document) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}
	conds := make([]string, 0, len(filter))
	args := make([]any, 0, len(filter))
	for _, f := range filter {
		if _, isNull := f.Value.(document.Null); isNull {
			conds = append(conds, c.dialect.quote(f.Key)+" IS NULL")
			continue
		}
		arg, err := sqlArg(f.Value)
		if err != nil {
			return "", nil, fmt.Errorf("filter %q: %w", f.Key, err)
		}
		args = append(args, arg)
		conds = append(conds, c.dialect.quote(f.Key)+" = "+c.dialect.placeholder(len(args)))
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// selectList supports inclusion projections only.
func (c *sqlConnector) selectList(projection document.Document) (string, error) {
	if len(projection) == 0 {
		return "*", nil
	}
	cols := make([]string, 0, len(projection))
	for _, f := range projection {
		if !truthyProjection(f.Value) {
			return "", fmt.Errorf("projection %q: SQL sources support inclusion projections only", f.Key)
		}
		cols = append(cols, c.dialect.quote(f.Key))
	}
	return strings.Join(cols, ", "), nil
}

func (c *sqlConnector) orderBy(sortSpec document.Document) string {
	if len(sortSpec) == 0 {
		return ""
	}
	parts := make([]string, 0, len(sortSpec))
	for _, f := range sortSpec {
		dir := "ASC"
		if arg, err := sqlArg(f.Value); err == nil {
			if n, ok := arg.(int64); ok && n < 0 {
				dir = "DESC"
			}
		}
		parts = append(parts, c.dialect.quote(f.Key)+" "+dir)
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

func truthyProjection(v document.Value) bool {
	switch x := v.(type) {
	case document.Bool:
		return bool(x)
	case document.Int32:
		return x != 0
	case document.Int64:
		return x != 0
	case document.Double:
		return x != 0
	}
	return true
}

// sqlArg converts a filter value to a driver argument.
func sqlArg(v document.Value) (any, error) {
	switch x := v.(type) {
	case document.String:
		return string(x), nil
	case document.Int32:
		return int64(x), nil
	case document.Int64:
		return int64(x), nil
	case document.Double:
		return float64(x), nil
	case document.Bool:
		return bool(x), nil
	case document.DateTime:
		return x.Time(), nil
	default:
		return nil, fmt.Errorf("%s values cannot be compared in SQL", v.Kind())
	}
}

type sqlSource struct {
	conn    *sqlConnector
	table   string
	columns string
	where   string
	args    []any
	order   string
	limit   int64
}

func (s *sqlSource) Label() string { return s.conn.dialect.driver + ":" + s.table }

func (s *sqlSource) query(offset int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s%s%s", s.columns, s.conn.dialect.quote(s.table), s.where, s.order)
	switch {
	case s.limit > 0:
		fmt.Fprintf(&b, " LIMIT %d", s.limit-offset)
	case offset > 0 && s.conn.dialect.unlimited != "":
		b.WriteString(" " + s.conn.dialect.unlimited)
	}
	if offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String()
}

func (s *sqlSource) Open(ctx context.Context, offset int64) (transfer.Cursor, error) {
	if s.limit > 0 && offset >= s.limit {
		return emptyCursor{}, nil
	}
	rows, err := s.conn.db.QueryContext(ctx, s.query(offset), s.args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("columns: %w", err)
	}
	return &sqlCursor{rows: rows, columns: cols}, nil
}

func (s *sqlSource) Estimate(ctx context.Context) (int64, bool) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	var n int64
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", s.conn.dialect.quote(s.table), s.where)
	if err := s.conn.db.QueryRowContext(ctx, q, s.args...).Scan(&n); err != nil {
		log.Printf("[SQL] Count %s failed: %v", s.table, err)
		return 0, false
	}
	if s.limit > 0 && n > s.limit {
		n = s.limit
	}
	return n, true
}

type sqlCursor struct {
	rows    *sql.Rows
	columns []string
}

func (c *sqlCursor) Next(context.Context) (document.Document, error) {
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate: %w", err)
		}
		return nil, io.EOF
	}
	values := make([]any, len(c.columns))
	ptrs := make([]any, len(c.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		return nil, transfer.SkipRecord(fmt.Errorf("scan row: %w", err))
	}
	doc := make(document.Document, 0, len(c.columns))
	for i, col := range c.columns {
		doc = append(doc, document.Field{Key: col, Value: sqlValue(values[i])})
	}
	return doc, nil
}

func (c *sqlCursor) Close(context.Context) error { return c.rows.Close() }

// sqlValue maps a scanned column to a document value. Text that is not
// valid UTF-8 is kept as binary.
func sqlValue(v any) document.Value {
	switch x := v.(type) {
	case nil:
		return document.Null{}
	case int64:
		if x >= -1<<31 && x <= 1<<31-1 {
			return document.Int32(x)
		}
		return document.Int64(x)
	case float64:
		return document.Double(x)
	case bool:
		return document.Bool(x)
	case string:
		return document.String(x)
	case []byte:
		if utf8.Valid(x) {
			return document.String(x)
		}
		return document.Binary{Data: append([]byte(nil), x...)}
	case time.Time:
		return document.NewDateTime(x)
	default:
		return document.String(fmt.Sprint(x))
	}
}
