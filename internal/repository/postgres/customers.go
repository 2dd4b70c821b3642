package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/persona-segmentation/internal/domain"
)

// upsertChunk bounds the rows per INSERT statement (5 params per row).
const upsertChunk = 500

// CustomerStore implements routing.DestinationStore against PostgreSQL.
// Every persona has its own table with an identical layout.
type CustomerStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewCustomerStore creates a Postgres-backed destination store. Every call
// is bounded by timeout when it is positive.
func NewCustomerStore(db *sql.DB, timeout time.Duration) *CustomerStore {
	return &CustomerStore{db: db, timeout: timeout}
}

func (s *CustomerStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// EnsureTables creates any missing persona table.
func (s *CustomerStore) EnsureTables(ctx context.Context, tables []string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	for _, t := range tables {
		_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				customer_id TEXT PRIMARY KEY,
				name        TEXT NOT NULL DEFAULT '',
				email       TEXT NOT NULL DEFAULT '',
				attributes  JSONB NOT NULL DEFAULT '{}',
				categories  JSONB NOT NULL DEFAULT '{}',
				updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, pq.QuoteIdentifier(t)))
		if err != nil {
			return fmt.Errorf("ensure table %s: %w", t, err)
		}
		// Tables created before categories existed.
		_, err = s.db.ExecContext(ctx, fmt.Sprintf(
			`ALTER TABLE %s ADD COLUMN IF NOT EXISTS categories JSONB NOT NULL DEFAULT '{}'`, pq.QuoteIdentifier(t)))
		if err != nil {
			return fmt.Errorf("ensure table %s: %w", t, err)
		}
	}
	return nil
}

func (s *CustomerStore) Upsert(ctx context.Context, table string, records []domain.CustomerRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert %s: begin: %w", table, err)
	}
	defer tx.Rollback()

	for start := 0; start < len(records); start += upsertChunk {
		end := start + upsertChunk
		if end > len(records) {
			end = len(records)
		}
		q, args, err := upsertQuery(table, records[start:end])
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("upsert %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("upsert %s: commit: %w", table, err)
	}
	return nil
}

func upsertQuery(table string, records []domain.CustomerRecord) (string, []interface{}, error) {
	values := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*5)
	for i, r := range records {
		attrs, err := json.Marshal(r.Attributes)
		if err != nil {
			return "", nil, fmt.Errorf("encode attributes for %s: %w", r.CustomerID, err)
		}
		cats := []byte("{}")
		if len(r.Categories) > 0 {
			if cats, err = json.Marshal(r.Categories); err != nil {
				return "", nil, fmt.Errorf("encode categories for %s: %w", r.CustomerID, err)
			}
		}
		n := i * 5
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, NOW())", n+1, n+2, n+3, n+4, n+5))
		args = append(args, r.CustomerID, r.Name, r.Email, string(attrs), string(cats))
	}
	q := fmt.Sprintf(`INSERT INTO %s (customer_id, name, email, attributes, categories, updated_at) VALUES %s
		ON CONFLICT (customer_id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			attributes = EXCLUDED.attributes,
			categories = EXCLUDED.categories,
			updated_at = NOW()`,
		pq.QuoteIdentifier(table), strings.Join(values, ", "))
	return q, args, nil
}

func (s *CustomerStore) Count(ctx context.Context, table string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+pq.QuoteIdentifier(table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (s *CustomerStore) ListIDs(ctx context.Context, table string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, "SELECT customer_id FROM "+pq.QuoteIdentifier(table))
	if err != nil {
		return nil, fmt.Errorf("list ids %s: %w", table, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *CustomerStore) List(ctx context.Context, table string) ([]domain.CustomerRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		"SELECT customer_id, name, email, attributes, categories FROM "+pq.QuoteIdentifier(table)+" ORDER BY customer_id")
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	var out []domain.CustomerRecord
	for rows.Next() {
		var r domain.CustomerRecord
		var attrs, cats []byte
		if err := rows.Scan(&r.CustomerID, &r.Name, &r.Email, &attrs, &cats); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &r.Attributes); err != nil {
				return nil, fmt.Errorf("decode attributes for %s: %w", r.CustomerID, err)
			}
		}
		if len(cats) > 0 && string(cats) != "{}" {
			if err := json.Unmarshal(cats, &r.Categories); err != nil {
				return nil, fmt.Errorf("decode categories for %s: %w", r.CustomerID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
