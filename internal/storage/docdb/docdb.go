// Package docdb implements the "document database" storage backend: one
// table per class holding a JSONB document, plus a shared _counters table
// providing the atomic find-and-increment sequence (spec §4.1.2). It is
// realized on top of PostgreSQL via sqlx + lib/pq, the teacher's declared
// (previously unused) SQL stack.
package docdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/elementstore/core/internal/storage"
)

// Backend is the PostgreSQL/JSONB document database backend.
type Backend struct {
	db *sqlx.DB
}

// Open connects to dsn, applies the bootstrap migrations, and returns a
// ready Backend.
func Open(ctx context.Context, dsn string) (*Backend, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("docdb: connect: %w", err)
	}
	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Backend{db: db}, nil
}

// New wraps an already-open sqlx.DB (used by tests against sqlmock).
func New(db *sqlx.DB) *Backend {
	return &Backend{db: db}
}

// Close releases the underlying connection pool.
func (b *Backend) Close() error { return b.db.Close() }

// collectionName maps a class id to a SQL-safe table name, substituting "@"
// with "_" the way the document backend maps class ids to collection names
// (spec §6 Persisted state layout).
func collectionName(classID string) string {
	replaced := strings.ReplaceAll(classID, "@", "_")
	replaced = strings.ReplaceAll(replaced, ".", "_")
	replaced = strings.ReplaceAll(replaced, "-", "_")
	return "doc_" + strings.ToLower(replaced)
}

func quoteIdent(name string) string {
	return pq.QuoteIdentifier(name)
}

func (b *Backend) ensureTable(ctx context.Context, classID string) error {
	table := collectionName(classID)
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		class_id TEXT NOT NULL,
		doc JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, quoteIdent(table))
	_, err := b.db.ExecContext(ctx, stmt)
	return err
}

// Get implements storage.Backend.
func (b *Backend) Get(ctx context.Context, classID string, id *string) (any, error) {
	if err := b.ensureTable(ctx, classID); err != nil {
		return nil, err
	}
	table := quoteIdent(collectionName(classID))

	if id == nil {
		rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`SELECT doc FROM %s ORDER BY id`, table))
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []map[string]any
		for rows.Next() {
			var raw []byte
			if err := rows.Scan(&raw); err != nil {
				return nil, err
			}
			var rec map[string]any
			if err := json.Unmarshal(raw, &rec); err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		return out, rows.Err()
	}

	var raw []byte
	err := b.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT doc FROM %s WHERE id = $1`, table), *id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Set implements storage.Backend.
func (b *Backend) Set(ctx context.Context, classID string, rec map[string]any) (map[string]any, error) {
	if err := b.ensureTable(ctx, classID); err != nil {
		return nil, err
	}
	table := quoteIdent(collectionName(classID))

	idStr, _ := rec["id"].(string)
	if idStr == "" {
		if numID, ok := numericID(rec["id"]); ok {
			idStr = numID
		}
	}
	if idStr == "" {
		seq, err := b.nextSeq(ctx, classID)
		if err != nil {
			return nil, err
		}
		idStr = fmt.Sprintf("%d", seq)
		rec["id"] = idStr
	}
	rec["id"] = idStr

	now := time.Now().UTC()
	var existed bool
	if err := b.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)`, table), idStr).Scan(&existed); err != nil {
		return nil, err
	}
	if !existed {
		rec["created_at"] = now
	}
	rec["updated_at"] = now

	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	_, err = b.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, class_id, doc, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at
	`, table), idStr, classID, payload, now)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete implements storage.Backend.
func (b *Backend) Delete(ctx context.Context, classID string, id string) (bool, error) {
	if err := b.ensureTable(ctx, classID); err != nil {
		return false, err
	}
	table := quoteIdent(collectionName(classID))
	res, err := b.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Query implements storage.Backend using JSONB field extraction for
// application filters and a native column for sort/pagination where it maps
// to id.
func (b *Backend) Query(ctx context.Context, classID string, filters []storage.Filter, opts storage.QueryOptions) ([]map[string]any, error) {
	if err := b.ensureTable(ctx, classID); err != nil {
		return nil, err
	}
	table := quoteIdent(collectionName(classID))

	var (
		clauses []string
		args    []any
	)
	for _, f := range filters {
		col := fieldExpr(f.Field)
		if f.In != nil {
			placeholder := fmt.Sprintf("$%d", len(args)+1)
			args = append(args, pq.Array(stringify(f.In)))
			clauses = append(clauses, fmt.Sprintf("%s = ANY(%s)", col, placeholder))
			continue
		}
		placeholder := fmt.Sprintf("$%d", len(args)+1)
		args = append(args, fmt.Sprint(f.Value))
		clauses = append(clauses, fmt.Sprintf("%s = %s", col, placeholder))
	}

	query := fmt.Sprintf(`SELECT doc FROM %s`, table)
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	if opts.Sort != "" {
		dir := "ASC"
		if strings.EqualFold(opts.SortDir, "desc") {
			dir = "DESC"
		}
		query += fmt.Sprintf(" ORDER BY %s %s", fieldExpr(opts.Sort), dir)
	} else {
		query += " ORDER BY id"
	}
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []map[string]any
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec map[string]any
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func fieldExpr(field string) string {
	if field == "id" {
		return "id"
	}
	return fmt.Sprintf("doc->>%s", pq.QuoteLiteral(field))
}

func stringify(vals []any) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = fmt.Sprint(v)
	}
	return out
}

// RenameProp implements storage.Backend using the JSONB '-' and '||'
// operators, the document backend's native key-rename operation
// (spec §4.1.2).
func (b *Backend) RenameProp(ctx context.Context, classID, oldKey, newKey string) (int, error) {
	if err := b.ensureTable(ctx, classID); err != nil {
		return 0, err
	}
	table := quoteIdent(collectionName(classID))
	res, err := b.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET doc = (doc - $1) || jsonb_build_object($2, doc->$1),
		    updated_at = now()
		WHERE doc ? $1
	`, table), oldKey, newKey)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// RenameClass implements storage.Backend by copying every document into a
// new table (rewriting class_id) and dropping the old table (spec §4.1.2
// "copies documents into a new collection and drops the old").
func (b *Backend) RenameClass(ctx context.Context, oldClassID, newClassID string) (int, error) {
	if err := b.ensureTable(ctx, oldClassID); err != nil {
		return 0, err
	}
	if err := b.ensureTable(ctx, newClassID); err != nil {
		return 0, err
	}
	oldTable := quoteIdent(collectionName(oldClassID))
	newTable := quoteIdent(collectionName(newClassID))

	res, err := b.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, class_id, doc, updated_at)
		SELECT id, $1, jsonb_set(doc, '{class_id}', to_jsonb($1::text)), updated_at FROM %s
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at
	`, newTable, oldTable), newClassID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err := b.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, oldTable)); err != nil {
		return 0, err
	}
	return int(n), nil
}

// nextSeq atomically increments the per-class counter in _counters,
// inserting a fresh row the first time a class allocates an id (spec
// §4.1.2 "_counters collection ... atomic find-and-increment").
func (b *Backend) nextSeq(ctx context.Context, classID string) (int64, error) {
	var seq int64
	err := b.db.QueryRowContext(ctx, `
		INSERT INTO _counters (class_id, seq) VALUES ($1, 1)
		ON CONFLICT (class_id) DO UPDATE SET seq = _counters.seq + 1
		RETURNING seq
	`, classID).Scan(&seq)
	return seq, err
}

func numericID(v any) (string, bool) {
	switch t := v.(type) {
	case float64:
		return fmt.Sprintf("%d", int64(t)), true
	case int64:
		return fmt.Sprintf("%d", t), true
	case int:
		return fmt.Sprintf("%d", t), true
	default:
		return "", false
	}
}
