package db

import (
	"context"
	"fmt"

	"failure-backfill/internal/models"
)

// Count returns the number of documents in the dataset table.
func (d *DB) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := d.Pool.QueryRow(ctx, countQuery(d.table)).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return total, nil
}

// FindFrom returns every document whose timestamp is at or after the cutoff.
func (d *DB) FindFrom(ctx context.Context, cutoff models.Cutoff) ([]models.DatasetRecord, error) {
	query, args := rangeQuery(d.table, cutoff)
	rows, err := d.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records from %s: %w", cutoff.Raw, err)
	}
	defer rows.Close()

	var list []models.DatasetRecord
	for rows.Next() {
		var rec models.DatasetRecord
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Fields); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		list = append(list, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return list, nil
}

// SetFlag sets one boolean field to true on one document. jsonb_set merges on the
// server, so every other key of the document is kept and concurrent flag writes
// on the same row do not lose each other.
func (d *DB) SetFlag(ctx context.Context, rec models.DatasetRecord, field string) error {
	result, err := d.Pool.Exec(ctx, setFlagQuery(d.table), field, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to set %s on record %s: %w", field, rec.ID, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("set %s on record %s: %w", field, rec.ID, ErrRecordNotFound)
	}
	return nil
}

func countQuery(table string) string {
	return `SELECT COUNT(*) FROM ` + table
}

func rangeQuery(table string, cutoff models.Cutoff) (string, []any) {
	if cutoff.Mode == models.CompareLexical {
		return `
	SELECT id, doc->>'timestamp', doc
	FROM ` + table + `
	WHERE jsonb_typeof(doc->'timestamp') = 'string'
	  AND (doc->>'timestamp') COLLATE "C" >= $1
	ORDER BY id`, []any{cutoff.Raw}
	}
	// CASE keeps the cast away from values that are not numeric.
	return `
	SELECT id, doc->>'timestamp', doc
	FROM ` + table + `
	WHERE CASE
		WHEN jsonb_typeof(doc->'timestamp') = 'string' AND doc->>'timestamp' ~ $2
		THEN btrim(doc->>'timestamp')::numeric >= $1::text::numeric
		ELSE false
	END
	ORDER BY id`, []any{cutoff.Raw, models.NumericPattern}
}

func setFlagQuery(table string) string {
	return `
	UPDATE ` + table + `
	SET doc = jsonb_set(doc, ARRAY[$1::text], 'true'::jsonb, true)
	WHERE id = $2`
}
