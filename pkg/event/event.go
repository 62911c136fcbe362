package event

import (
	"encoding/json"
	"strings"
	"time"
)

// Operation indicates the change type for a decoded event.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// AnalysisType selects what an analysis session produces.
type AnalysisType string

const (
	AnalysisSummary AnalysisType = "summary"
	AnalysisFull    AnalysisType = "full"
	AnalysisHistory AnalysisType = "history"
)

// Plugin identifies the logical decoder plugin the slot was created with.
type Plugin string

const (
	PluginWal2JSON     Plugin = "wal2json"
	PluginTestDecoding Plugin = "test_decoding"
)

// SaveTarget selects where full-mode output goes.
type SaveTarget string

const (
	SaveTargetPostgres SaveTarget = "postgres"
	SaveTargetDisk     SaveTarget = "disk"
)

// SlotConfig captures one analysis session. It is built once when the session
// is created and never mutated afterwards; components receive it by value.
//
// Empty Tables/Operations mean "match everything", not "match nothing".
type SlotConfig struct {
	SlotName     string       `json:"slot_name" yaml:"slot_name"`
	Plugin       Plugin       `json:"plugin" yaml:"plugin" validate:"omitempty,oneof=wal2json test_decoding"`
	AnalysisType AnalysisType `json:"analysis_type" yaml:"analysis_type" validate:"required,oneof=summary full history"`
	PeriodHours  int          `json:"period_hours" yaml:"period_hours" validate:"min=1,max=168"`
	Tables       []string     `json:"tables" yaml:"tables"`
	Operations   []string     `json:"operations" yaml:"operations"`
	SummaryPDF   bool         `json:"summary_pdf" yaml:"summary_pdf"`
	SummaryHTML  bool         `json:"summary_html" yaml:"summary_html"`
	HistoryTable string       `json:"history_table" yaml:"history_table"`
	HistoryIDs   []string     `json:"history_ids" yaml:"history_ids"`
	MaskFields   []string     `json:"mask_fields" yaml:"mask_fields"`
	SaveTarget   SaveTarget   `json:"save_target" yaml:"save_target" validate:"omitempty,oneof=postgres disk"`
	DiskPath     string       `json:"disk_path" yaml:"disk_path"`
}

// Normalized returns a copy with defaults applied.
func (c SlotConfig) Normalized() SlotConfig {
	out := c
	if out.SlotName == "" {
		out.SlotName = "data_slot"
	}
	if out.Plugin == "" {
		out.Plugin = PluginWal2JSON
	}
	if out.PeriodHours <= 0 {
		out.PeriodHours = 1
	}
	return out
}

// PeriodSeconds is the aggregation period used to anchor time buckets.
func (c SlotConfig) PeriodSeconds() int64 {
	return int64(c.PeriodHours) * 3600
}

// RunDuration bounds the poll loop. The period is configured in "hours" but
// the run length takes the bare number as seconds, so PeriodHours=24 polls
// for 24 seconds. Kept for parity with the frontends that drive this engine.
func (c SlotConfig) RunDuration() time.Duration {
	return time.Duration(c.PeriodHours) * time.Second
}

// ParseIDList splits a semicolon-separated identifier list, trimming blanks.
func ParseIDList(raw string) []string {
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Event is one normalized row-level change. Produced only by the decoders
// and written at most once to a sink.
//
// Timestamp is kept as the decoder's own string form; it is parsed into an
// instant at aggregation time, where a bad timestamp can be skipped without
// losing the event for the archival paths.
type Event struct {
	Timestamp string         `json:"timestamp"`
	XID       uint64         `json:"xid"`
	Schema    string         `json:"schema"`
	Table     string         `json:"table"`
	Operation Operation      `json:"operation"`
	OldData   map[string]any `json:"old_data,omitempty"`
	NewData   map[string]any `json:"new_data,omitempty"`

	// Raw holds the untouched decoder line for plain-text plugins that emit
	// no structured fields. When set, the structured fields above are empty.
	Raw string `json:"-"`
}

// IsRaw reports whether the event is an opaque plain-text decoder line.
func (e Event) IsRaw() bool {
	return e.Raw != ""
}

// Line renders the event as one sink record: the JSONL form for structured
// events, the original decoder line for raw ones.
func (e Event) Line() (string, error) {
	if e.IsRaw() {
		return e.Raw, nil
	}
	encoded, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
