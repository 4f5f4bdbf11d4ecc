package catalog

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/DbChat/internal/schema"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS table_metadata (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	table_name TEXT NOT NULL UNIQUE,
	table_description TEXT NOT NULL DEFAULT '',
	embedding BLOB
);
CREATE TABLE IF NOT EXISTS column_metadata (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	table_name TEXT NOT NULL,
	column_name TEXT NOT NULL,
	column_description TEXT NOT NULL DEFAULT '',
	embedding BLOB,
	UNIQUE (table_name, column_name)
);`

// SQLiteStore keeps the catalog in a local SQLite file. Embeddings are
// stored as little-endian float32 blobs.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the catalog at path. Use ":memory:" for a
// throwaway catalog.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite catalog: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite catalog schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) MissingEmbeddings(ctx context.Context) ([]schema.Element, error) {
	return s.query(ctx, "WHERE embedding IS NULL")
}

func (s *SQLiteStore) AllElements(ctx context.Context) ([]schema.Element, error) {
	return s.query(ctx, "")
}

func (s *SQLiteStore) query(ctx context.Context, where string) ([]schema.Element, error) {
	var out []schema.Element

	rows, err := s.db.QueryContext(ctx, `SELECT id, table_name, table_description, embedding FROM table_metadata `+where+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query table metadata: %w", err)
	}
	for rows.Next() {
		el := schema.Element{Type: schema.TableElement}
		var blob []byte
		if err := rows.Scan(&el.ID, &el.TableName, &el.Description, &blob); err != nil {
			rows.Close()
			return nil, err
		}
		el.Embedding = decodeVector(blob)
		out = append(out, el)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT id, table_name, column_name, column_description, embedding FROM column_metadata `+where+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query column metadata: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		el := schema.Element{Type: schema.ColumnElement}
		var blob []byte
		if err := rows.Scan(&el.ID, &el.TableName, &el.ColumnName, &el.Description, &blob); err != nil {
			return nil, err
		}
		el.Embedding = decodeVector(blob)
		out = append(out, el)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PersistEmbedding(ctx context.Context, el schema.Element, vec []float32) error {
	table := "table_metadata"
	if el.Type == schema.ColumnElement {
		table = "column_metadata"
	}

	res, err := s.db.ExecContext(ctx, `UPDATE `+table+` SET embedding = ? WHERE id = ?`, encodeVector(vec), el.ID)
	if err != nil {
		return fmt.Errorf("update %s embedding: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM table_metadata),
			(SELECT COUNT(*) FROM column_metadata),
			(SELECT COUNT(*) FROM table_metadata WHERE embedding IS NOT NULL),
			(SELECT COUNT(*) FROM column_metadata WHERE embedding IS NOT NULL)`,
	).Scan(&c.Tables, &c.Columns, &c.EmbeddedTables, &c.EmbeddedCols)
	if err != nil {
		return Counts{}, fmt.Errorf("count catalog: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) Seed(ctx context.Context, els []schema.Element) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	added := 0
	for _, el := range els {
		var res sql.Result
		if el.Type == schema.TableElement {
			res, err = tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO table_metadata (table_name, table_description, embedding) VALUES (?, ?, ?)`,
				el.TableName, el.Description, encodeVector(el.Embedding))
		} else {
			res, err = tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO column_metadata (table_name, column_name, column_description, embedding) VALUES (?, ?, ?, ?)`,
				el.TableName, el.ColumnName, el.Description, encodeVector(el.Embedding))
		}
		if err != nil {
			return 0, fmt.Errorf("seed %s: %w", el.Key(), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		added += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}

// encodeVector returns nil (SQL NULL) for a nil vector.
func encodeVector(v []float32) any {
	if v == nil {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if b == nil {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
