package metastore

import (
	"context"
	"fmt"
)

// Aggregate counter tables. Each row is (slot_name, dimension key..., count)
// and is only ever incremented for the lifetime of one analysis session.
const (
	initAggOperations = `CREATE TABLE IF NOT EXISTS agg_operations (
  slot_name TEXT, operation TEXT, count INTEGER DEFAULT 0,
  PRIMARY KEY (slot_name, operation)
);`
	initAggTables = `CREATE TABLE IF NOT EXISTS agg_tables (
  slot_name TEXT, schema TEXT, table_name TEXT, count INTEGER DEFAULT 0,
  PRIMARY KEY (slot_name, schema, table_name)
);`
	initAggActivity = `CREATE TABLE IF NOT EXISTS agg_activity (
  slot_name TEXT, bucket_start INTEGER, bucket_end INTEGER, count INTEGER DEFAULT 0,
  PRIMARY KEY (slot_name, bucket_start, bucket_end)
);`
	initAggSizes = `CREATE TABLE IF NOT EXISTS agg_sizes (
  slot_name TEXT, size_bucket TEXT, count INTEGER DEFAULT 0,
  PRIMARY KEY (slot_name, size_bucket)
);`
)

// IncrementOperation bumps the per-operation counter by one.
func (s *Store) IncrementOperation(ctx context.Context, slotName, operation string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agg_operations (slot_name, operation, count) VALUES (?, ?, 1)
		 ON CONFLICT(slot_name, operation) DO UPDATE SET count = count + 1`,
		slotName, operation)
	if err != nil {
		return fmt.Errorf("upsert operation counter: %w", err)
	}
	return nil
}

// IncrementTable bumps the per-table counter by one.
func (s *Store) IncrementTable(ctx context.Context, slotName, schema, table string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agg_tables (slot_name, schema, table_name, count) VALUES (?, ?, ?, 1)
		 ON CONFLICT(slot_name, schema, table_name) DO UPDATE SET count = count + 1`,
		slotName, schema, table)
	if err != nil {
		return fmt.Errorf("upsert table counter: %w", err)
	}
	return nil
}

// IncrementActivity bumps the time-bucket counter by one.
func (s *Store) IncrementActivity(ctx context.Context, slotName string, bucketStart, bucketEnd int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agg_activity (slot_name, bucket_start, bucket_end, count) VALUES (?, ?, ?, 1)
		 ON CONFLICT(slot_name, bucket_start, bucket_end) DO UPDATE SET count = count + 1`,
		slotName, bucketStart, bucketEnd)
	if err != nil {
		return fmt.Errorf("upsert activity counter: %w", err)
	}
	return nil
}

// IncrementSize bumps the size-class counter by one.
func (s *Store) IncrementSize(ctx context.Context, slotName, sizeBucket string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agg_sizes (slot_name, size_bucket, count) VALUES (?, ?, 1)
		 ON CONFLICT(slot_name, size_bucket) DO UPDATE SET count = count + 1`,
		slotName, sizeBucket)
	if err != nil {
		return fmt.Errorf("upsert size counter: %w", err)
	}
	return nil
}

// TableCount is one (schema, table) counter row.
type TableCount struct {
	Schema string
	Table  string
	Count  int64
}

// ActivityBucket is one time-window counter row.
type ActivityBucket struct {
	BucketStart int64
	BucketEnd   int64
	Count       int64
}

// OperationCounts returns the per-operation counters for a slot.
func (s *Store) OperationCounts(ctx context.Context, slotName string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT operation, count FROM agg_operations WHERE slot_name = ?", slotName)
	if err != nil {
		return nil, fmt.Errorf("query operation counters: %w", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var op string
		var count int64
		if err := rows.Scan(&op, &count); err != nil {
			return nil, fmt.Errorf("scan operation counter: %w", err)
		}
		out[op] = count
	}
	return out, rows.Err()
}

// TableCounts returns the per-table counters for a slot.
func (s *Store) TableCounts(ctx context.Context, slotName string) ([]TableCount, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT schema, table_name, count FROM agg_tables WHERE slot_name = ? ORDER BY schema, table_name", slotName)
	if err != nil {
		return nil, fmt.Errorf("query table counters: %w", err)
	}
	defer rows.Close()

	out := []TableCount{}
	for rows.Next() {
		var tc TableCount
		if err := rows.Scan(&tc.Schema, &tc.Table, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan table counter: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// ActivityCounts returns the time-bucket counters for a slot in window order.
func (s *Store) ActivityCounts(ctx context.Context, slotName string) ([]ActivityBucket, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT bucket_start, bucket_end, count FROM agg_activity WHERE slot_name = ? ORDER BY bucket_start", slotName)
	if err != nil {
		return nil, fmt.Errorf("query activity counters: %w", err)
	}
	defer rows.Close()

	out := []ActivityBucket{}
	for rows.Next() {
		var bucket ActivityBucket
		if err := rows.Scan(&bucket.BucketStart, &bucket.BucketEnd, &bucket.Count); err != nil {
			return nil, fmt.Errorf("scan activity counter: %w", err)
		}
		out = append(out, bucket)
	}
	return out, rows.Err()
}

// SizeCounts returns the size-class counters for a slot.
func (s *Store) SizeCounts(ctx context.Context, slotName string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT size_bucket, count FROM agg_sizes WHERE slot_name = ?", slotName)
	if err != nil {
		return nil, fmt.Errorf("query size counters: %w", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var bucket string
		var count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, fmt.Errorf("scan size counter: %w", err)
		}
		out[bucket] = count
	}
	return out, rows.Err()
}

// ClearAggregates removes all four counter families for one slot. Summary
// counters are session-scoped; they are not retained past finalize.
func (s *Store) ClearAggregates(ctx context.Context, slotName string) error {
	for _, table := range []string{"agg_operations", "agg_tables", "agg_activity", "agg_sizes"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE slot_name = ?", slotName); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}
