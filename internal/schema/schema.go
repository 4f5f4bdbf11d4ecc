// Package schema models database schema elements and introspects a live
// Postgres database into them.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Cache holds the last introspected schema.
type Cache struct {
	tables      []Table
	lastRefresh time.Time
	mu          sync.RWMutex
}

// Table represents a database table and its structure.
type Table struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Columns     []Column     `json:"columns"`
	ForeignKeys []ForeignKey `json:"foreignKeys,omitempty"`
	RowEstimate int64        `json:"rowEstimate"`
}

// Column represents a table column.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	IsPK     bool   `json:"isPrimaryKey"`
	Comment  string `json:"comment,omitempty"`
}

// ForeignKey represents a foreign key relationship.
type ForeignKey struct {
	Column        string `json:"column"`
	ForeignTable  string `json:"foreignTable"`
	ForeignColumn string `json:"foreignColumn"`
}

// NewCache creates an empty schema cache.
func NewCache() *Cache {
	return &Cache{}
}

// Load introspects the database and replaces the cached tables. Tables named
// in exclude are left out.
func (c *Cache) Load(ctx context.Context, db *sql.DB, exclude ...string) error {
	tables, err := Introspect(ctx, db, exclude...)
	if err != nil {
		return err
	}
	c.Set(tables)
	return nil
}

// Set replaces the cached tables.
func (c *Cache) Set(tables []Table) {
	c.mu.Lock()
	c.tables = tables
	c.lastRefresh = time.Now()
	c.mu.Unlock()
}

// Tables returns a copy of the cached tables.
func (c *Cache) Tables() []Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.tables)
}

// TableCount returns the number of cached tables.
func (c *Cache) TableCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tables)
}

// LastRefresh returns when the schema was last loaded.
func (c *Cache) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}

// Introspect reads tables, columns, keys and descriptions from the public
// schema. Descriptions come from table_metadata / column_metadata when those
// tables exist, otherwise from Postgres comments.
func Introspect(ctx context.Context, db *sql.DB, exclude ...string) ([]Table, error) {
	tableNames, err := getTableNames(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("load table names: %w", err)
	}

	columns, err := getColumns(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("load columns: %w", err)
	}

	primaryKeys, err := getPrimaryKeys(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("load primary keys: %w", err)
	}

	foreignKeys, err := getForeignKeys(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("load foreign keys: %w", err)
	}

	rowEstimates, err := getRowEstimates(ctx, db)
	if err != nil {
		// Non-fatal: continue without estimates
		rowEstimates = make(map[string]int64)
	}

	tableDescs, columnDescs, err := getMetadataDescriptions(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("load descriptions: %w", err)
	}

	tables := make([]Table, 0, len(tableNames))
	for _, name := range tableNames {
		if slices.Contains(exclude, name) {
			continue
		}

		table := Table{
			Name:        name,
			Description: tableDescs[name],
			Columns:     columns[name],
			ForeignKeys: foreignKeys[name],
			RowEstimate: rowEstimates[name],
		}

		pkCols := primaryKeys[name]
		for i := range table.Columns {
			col := &table.Columns[i]
			col.IsPK = slices.Contains(pkCols, col.Name)
			if d, ok := columnDescs[name+"."+col.Name]; ok && d != "" {
				col.Comment = d
			}
		}

		tables = append(tables, table)
	}

	return tables, nil
}

func getTableNames(ctx context.Context, db *sql.DB) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public'
		  AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
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

func getColumns(ctx context.Context, db *sql.DB) (map[string][]Column, error) {
	query := `
		SELECT
			c.table_name,
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES' AS nullable,
			COALESCE(pgd.description, '') AS comment
		FROM information_schema.columns c
		LEFT JOIN pg_catalog.pg_statio_all_tables st
			ON st.schemaname = c.table_schema AND st.relname = c.table_name
		LEFT JOIN pg_catalog.pg_description pgd
			ON pgd.objoid = st.relid AND pgd.objsubid = c.ordinal_position
		WHERE c.table_schema = 'public'
		ORDER BY c.table_name, c.ordinal_position`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := make(map[string][]Column)
	for rows.Next() {
		var tableName string
		var col Column
		if err := rows.Scan(&tableName, &col.Name, &col.Type, &col.Nullable, &col.Comment); err != nil {
			return nil, err
		}
		columns[tableName] = append(columns[tableName], col)
	}
	return columns, rows.Err()
}

func getPrimaryKeys(ctx context.Context, db *sql.DB) (map[string][]string, error) {
	query := `
		SELECT tc.table_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema = 'public'
		ORDER BY tc.table_name, kcu.ordinal_position`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pks := make(map[string][]string)
	for rows.Next() {
		var tableName, colName string
		if err := rows.Scan(&tableName, &colName); err != nil {
			return nil, err
		}
		pks[tableName] = append(pks[tableName], colName)
	}
	return pks, rows.Err()
}

func getForeignKeys(ctx context.Context, db *sql.DB) (map[string][]ForeignKey, error) {
	query := `
		SELECT
			tc.table_name,
			kcu.column_name,
			ccu.table_name AS foreign_table,
			ccu.column_name AS foreign_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema = 'public'`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fks := make(map[string][]ForeignKey)
	for rows.Next() {
		var tableName string
		var fk ForeignKey
		if err := rows.Scan(&tableName, &fk.Column, &fk.ForeignTable, &fk.ForeignColumn); err != nil {
			return nil, err
		}
		fks[tableName] = append(fks[tableName], fk)
	}
	return fks, rows.Err()
}

func getRowEstimates(ctx context.Context, db *sql.DB) (map[string]int64, error) {
	query := `
		SELECT relname, reltuples::bigint
		FROM pg_class
		WHERE relnamespace = 'public'::regnamespace
		  AND relkind = 'r'`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	estimates := make(map[string]int64)
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, err
		}
		estimates[name] = max(count, 0)
	}
	return estimates, rows.Err()
}

// getMetadataDescriptions reads human-written descriptions from the catalog
// tables. Missing catalog tables yield empty maps.
func getMetadataDescriptions(ctx context.Context, db *sql.DB) (map[string]string, map[string]string, error) {
	tables := make(map[string]string)
	columns := make(map[string]string)

	var haveTables, haveColumns bool
	err := db.QueryRowContext(ctx, `
		SELECT to_regclass('public.table_metadata') IS NOT NULL,
		       to_regclass('public.column_metadata') IS NOT NULL`).Scan(&haveTables, &haveColumns)
	if err != nil {
		return nil, nil, err
	}

	if haveTables {
		rows, err := db.QueryContext(ctx, `SELECT table_name, COALESCE(table_description, '') FROM table_metadata`)
		if err != nil {
			return nil, nil, err
		}
		defer rows.Close()
		for rows.Next() {
			var name, desc string
			if err := rows.Scan(&name, &desc); err != nil {
				return nil, nil, err
			}
			tables[name] = desc
		}
		if err := rows.Err(); err != nil {
			return nil, nil, err
		}
	}

	if haveColumns {
		rows, err := db.QueryContext(ctx, `SELECT table_name, column_name, COALESCE(column_description, '') FROM column_metadata`)
		if err != nil {
			return nil, nil, err
		}
		defer rows.Close()
		for rows.Next() {
			var table, col, desc string
			if err := rows.Scan(&table, &col, &desc); err != nil {
				return nil, nil, err
			}
			columns[strings.Join([]string{table, col}, ".")] = desc
		}
		if err := rows.Err(); err != nil {
			return nil, nil, err
		}
	}

	return tables, columns, nil
}
