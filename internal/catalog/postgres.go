package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/JonMunkholm/DbChat/internal/schema"
)

// PostgresStore keeps the catalog in table_metadata / column_metadata with
// pgvector embedding columns.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to the catalog database.
func OpenPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect catalog: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema creates the vector extension and catalog tables when absent.
// dimensions fixes the width of the embedding columns.
func (s *PostgresStore) EnsureSchema(ctx context.Context, dimensions int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS table_metadata (
			id SERIAL PRIMARY KEY,
			table_name TEXT NOT NULL UNIQUE,
			table_description TEXT NOT NULL DEFAULT '',
			embedding vector(%d)
		)`, dimensions),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS column_metadata (
			id SERIAL PRIMARY KEY,
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			column_description TEXT NOT NULL DEFAULT '',
			embedding vector(%d),
			UNIQUE (table_name, column_name)
		)`, dimensions),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure catalog schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) MissingEmbeddings(ctx context.Context) ([]schema.Element, error) {
	return s.query(ctx, "WHERE embedding IS NULL")
}

func (s *PostgresStore) AllElements(ctx context.Context) ([]schema.Element, error) {
	return s.query(ctx, "")
}

func (s *PostgresStore) query(ctx context.Context, where string) ([]schema.Element, error) {
	tables, err := s.collect(ctx,
		`SELECT id, table_name, '' AS column_name, COALESCE(table_description, ''), embedding::text
		 FROM table_metadata `+where+` ORDER BY id`,
		schema.TableElement)
	if err != nil {
		return nil, fmt.Errorf("query table metadata: %w", err)
	}

	columns, err := s.collect(ctx,
		`SELECT id, table_name, column_name, COALESCE(column_description, ''), embedding::text
		 FROM column_metadata `+where+` ORDER BY id`,
		schema.ColumnElement)
	if err != nil {
		return nil, fmt.Errorf("query column metadata: %w", err)
	}

	return append(tables, columns...), nil
}

func (s *PostgresStore) collect(ctx context.Context, sql string, typ schema.ElementType) ([]schema.Element, error) {
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (schema.Element, error) {
		el := schema.Element{Type: typ}
		var vecText *string
		if err := row.Scan(&el.ID, &el.TableName, &el.ColumnName, &el.Description, &vecText); err != nil {
			return el, err
		}
		if vecText != nil {
			var v pgvector.Vector
			if err := v.Scan([]byte(*vecText)); err != nil {
				return el, fmt.Errorf("decode embedding of %s: %w", el.Key(), err)
			}
			el.Embedding = v.Slice()
		}
		return el, nil
	})
}

func (s *PostgresStore) PersistEmbedding(ctx context.Context, el schema.Element, vec []float32) error {
	table := "table_metadata"
	if el.Type == schema.ColumnElement {
		table = "column_metadata"
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+table+` SET embedding = $1::vector WHERE id = $2`,
		pgvector.NewVector(vec), el.ID)
	if err != nil {
		return fmt.Errorf("update %s embedding: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.pool.QueryRow(ctx, `
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

func (s *PostgresStore) Seed(ctx context.Context, els []schema.Element) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	added := 0
	for _, el := range els {
		var vec *pgvector.Vector
		if el.Embedding != nil {
			v := pgvector.NewVector(el.Embedding)
			vec = &v
		}

		var tag pgconn.CommandTag
		if el.Type == schema.TableElement {
			tag, err = tx.Exec(ctx,
				`INSERT INTO table_metadata (table_name, table_description, embedding)
				 VALUES ($1, $2, $3::vector) ON CONFLICT (table_name) DO NOTHING`,
				el.TableName, el.Description, vec)
		} else {
			tag, err = tx.Exec(ctx,
				`INSERT INTO column_metadata (table_name, column_name, column_description, embedding)
				 VALUES ($1, $2, $3, $4::vector) ON CONFLICT (table_name, column_name) DO NOTHING`,
				el.TableName, el.ColumnName, el.Description, vec)
		}
		if err != nil {
			return 0, fmt.Errorf("seed %s: %w", el.Key(), err)
		}
		added += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return added, nil
}
