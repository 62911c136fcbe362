// Package aggregate buckets normalized event records into the four counter
// families of the metadata store: operation, table, time window, size class.
package aggregate

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/SofiaNechaeva/wal-analyzer/internal/metastore"
)

// Size class thresholds, in serialized bytes per record.
const (
	sizeSmallLimit  = 1024
	sizeMediumLimit = 10 * 1024
)

// Size class names as stored in agg_sizes.
const (
	SizeSmall  = "small"
	SizeMedium = "medium"
	SizeLarge  = "large"
)

// timestampLayouts covers wal2json's timestamp output plus the usual ISO
// forms, tried in order.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05-07",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// FloorToPeriodStart slices an epoch timestamp down to the nearest multiple
// of periodSeconds. Anchoring on the first event of a run (instead of "now")
// keeps bucket boundaries reproducible for a given input regardless of when
// aggregation happens; alignment drifting between runs is accepted.
func FloorToPeriodStart(tsEpoch, periodSeconds int64) int64 {
	return tsEpoch - (tsEpoch % periodSeconds)
}

// BucketWidth returns the activity bucket width for a period, never below 1s.
func BucketWidth(periodSeconds int64) int64 {
	width := periodSeconds / 1000
	if width < 1 {
		return 1
	}
	return width
}

// SizeClass classifies a record by its serialized byte length.
func SizeClass(recordLen int) string {
	switch {
	case recordLen < sizeSmallLimit:
		return SizeSmall
	case recordLen < sizeMediumLimit:
		return SizeMedium
	default:
		return SizeLarge
	}
}

// ParseTimestamp parses a decoder timestamp into epoch seconds.
func ParseTimestamp(raw string) (int64, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, false
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed.Unix(), true
		}
	}
	return 0, false
}

// lineRecord is the subset of a sink record the aggregator reads.
type lineRecord struct {
	Operation string `json:"operation"`
	Schema    string `json:"schema"`
	Table     string `json:"table"`
	Timestamp string `json:"timestamp"`
}

// Aggregator consumes line records for one slot and upserts counter
// increments. It anchors its time window on the first successfully parsed
// record and keeps that anchor for its whole lifetime, so one Aggregator must
// not outlive its session.
//
// Feeding the same lines twice doubles the counts; callers aggregate each
// poll cycle's output exactly once.
type Aggregator struct {
	store         *metastore.Store
	slotName      string
	periodSeconds int64
	bucketWidth   int64

	periodStart int64
	anchored    bool
}

// New builds an aggregator for one analysis session.
func New(store *metastore.Store, slotName string, periodHours int) *Aggregator {
	periodSeconds := int64(periodHours) * 3600
	if periodSeconds <= 0 {
		periodSeconds = 3600
	}
	return &Aggregator{
		store:         store,
		slotName:      slotName,
		periodSeconds: periodSeconds,
		bucketWidth:   BucketWidth(periodSeconds),
	}
}

// ConsumeLines aggregates a batch of line records, returning how many were
// counted. Malformed JSON and unparsable timestamps are skipped with a
// warning; they never fail the batch.
func (a *Aggregator) ConsumeLines(ctx context.Context, lines []string) (int, error) {
	counted := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		var rec lineRecord
		if err := json.Unmarshal([]byte(trimmed), &rec); err != nil {
			log.Printf("aggregate: skipping malformed record: %v", err)
			continue
		}
		tsEpoch, ok := ParseTimestamp(rec.Timestamp)
		if !ok {
			log.Printf("aggregate: skipping record with unparsable timestamp %q", rec.Timestamp)
			continue
		}

		if !a.anchored {
			a.periodStart = FloorToPeriodStart(tsEpoch, a.periodSeconds)
			a.anchored = true
		}
		// floor division: an out-of-order record timestamped before the
		// anchor must land in a negative bucket whose bounds contain it
		offset := tsEpoch - a.periodStart
		index := offset / a.bucketWidth
		if offset < 0 && offset%a.bucketWidth != 0 {
			index--
		}
		bucketStart := a.periodStart + index*a.bucketWidth
		bucketEnd := bucketStart + a.bucketWidth

		if rec.Operation != "" {
			if err := a.store.IncrementOperation(ctx, a.slotName, strings.ToUpper(rec.Operation)); err != nil {
				return counted, err
			}
		}
		if rec.Schema != "" && rec.Table != "" {
			if err := a.store.IncrementTable(ctx, a.slotName, rec.Schema, rec.Table); err != nil {
				return counted, err
			}
		}
		if err := a.store.IncrementActivity(ctx, a.slotName, bucketStart, bucketEnd); err != nil {
			return counted, err
		}
		if err := a.store.IncrementSize(ctx, a.slotName, SizeClass(len(trimmed))); err != nil {
			return counted, err
		}
		counted++
	}
	return counted, nil
}

// ConsumeFile aggregates a newline-delimited record file. A missing file is
// not an error: zero records are counted and all counters stay untouched.
func (a *Aggregator) ConsumeFile(ctx context.Context, fs afero.Fs, path string) (int, error) {
	file, err := fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("aggregate: input %s not found, nothing to do", path)
			return 0, nil
		}
		return 0, err
	}
	defer file.Close()

	counted := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		n, err := a.ConsumeLines(ctx, []string{scanner.Text()})
		if err != nil {
			return counted, err
		}
		counted += n
	}
	if err := scanner.Err(); err != nil {
		return counted, err
	}
	return counted, nil
}
