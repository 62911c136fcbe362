// Package report defines the boundary to the report-rendering collaborator.
//
// Chart, PDF and HTML chart rendering live outside this system; the engine
// hands over flat counter tables and per-identifier change series, and the
// renderer answers with a descriptor of the artifacts it produced.
package report

import (
	"context"

	"github.com/SofiaNechaeva/wal-analyzer/internal/metastore"
)

// NoOutputSelected is the summary result when neither output toggle is set.
const NoOutputSelected = "no output format selected"

// NoMatchingIDs is the history result when zero identifier pages were
// produced. It is an outcome, not a failure.
const NoMatchingIDs = "no matching identifiers"

// Summary carries the four flat counter tables for one slot.
type Summary struct {
	Operations map[string]int64
	Tables     []metastore.TableCount
	Activity   []metastore.ActivityBucket
	Sizes      map[string]int64
}

// Change is one (old, new) step in an identifier's history, already masked.
type Change struct {
	OldData map[string]any
	NewData map[string]any
}

// Renderer consumes aggregated counters and history series.
type Renderer interface {
	// RenderSummary produces the summary artifacts and returns a
	// semicolon-joined descriptor of their paths, or NoOutputSelected.
	RenderSummary(ctx context.Context, slotName string, sum Summary, wantPDF, wantHTML bool) (string, error)

	// AppendHistory appends one identifier's ordered change series to its
	// per-identifier artifact and returns the artifact path.
	AppendHistory(ctx context.Context, slotName, table, id string, changes []Change) (string, error)
}

// LoadSummary reads the four counter tables for a slot from the metastore.
func LoadSummary(ctx context.Context, store *metastore.Store, slotName string) (Summary, error) {
	operations, err := store.OperationCounts(ctx, slotName)
	if err != nil {
		return Summary{}, err
	}
	tables, err := store.TableCounts(ctx, slotName)
	if err != nil {
		return Summary{}, err
	}
	activity, err := store.ActivityCounts(ctx, slotName)
	if err != nil {
		return Summary{}, err
	}
	sizes, err := store.SizeCounts(ctx, slotName)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Operations: operations, Tables: tables, Activity: activity, Sizes: sizes}, nil
}
