// Package filter implements the three-criteria event filter.
//
// Each criterion is optional; an empty criterion matches everything. An event
// passes only if it passes every configured criterion.
package filter

import (
	"encoding/json"
	"strings"

	"github.com/SofiaNechaeva/wal-analyzer/pkg/event"
)

// Criteria holds the configured filter inputs for one session.
type Criteria struct {
	Tables     []string
	Operations []string
	IDs        []string
}

// FromConfig builds criteria from a slot config.
func FromConfig(cfg event.SlotConfig) Criteria {
	return Criteria{
		Tables:     cfg.Tables,
		Operations: cfg.Operations,
		IDs:        cfg.HistoryIDs,
	}
}

// Match reports whether a structured event passes all configured criteria.
func (c Criteria) Match(ev event.Event) bool {
	if len(c.Tables) > 0 && !containsString(c.Tables, ev.Table) {
		return false
	}
	if len(c.Operations) > 0 && !containsFold(c.Operations, string(ev.Operation)) {
		return false
	}
	if len(c.IDs) > 0 && !c.matchIDs(ev) {
		return false
	}
	return true
}

// matchIDs reports whether any configured identifier appears as a substring
// of the serialized old or new data. This is a plain substring search by
// design: "12" also matches "120". Structured key lookup would change the
// observable results of existing analyses.
func (c Criteria) matchIDs(ev event.Event) bool {
	oldJSON := marshalData(ev.OldData)
	newJSON := marshalData(ev.NewData)
	for _, id := range c.IDs {
		if id == "" {
			continue
		}
		if strings.Contains(oldJSON, id) || strings.Contains(newJSON, id) {
			return true
		}
	}
	return false
}

// MatchRawLine filters an opaque plain-text decoder line. Only the table and
// operation criteria apply, both via substring containment; this is the
// documented lower-fidelity mode for test_decoding output.
func (c Criteria) MatchRawLine(line string) bool {
	if len(c.Tables) > 0 {
		found := false
		for _, table := range c.Tables {
			if table != "" && strings.Contains(line, table) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(c.Operations) > 0 {
		lower := strings.ToLower(line)
		found := false
		for _, op := range c.Operations {
			if op != "" && strings.Contains(lower, strings.ToLower(op)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Apply filters a batch, choosing the structured or raw path per event.
func (c Criteria) Apply(events []event.Event) []event.Event {
	out := make([]event.Event, 0, len(events))
	for _, ev := range events {
		if ev.IsRaw() {
			if c.MatchRawLine(ev.Raw) {
				out = append(out, ev)
			}
			continue
		}
		if c.Match(ev) {
			out = append(out, ev)
		}
	}
	return out
}

func containsString(haystack []string, needle string) bool {
	for _, item := range haystack {
		if item == needle {
			return true
		}
	}
	return false
}

func containsFold(haystack []string, needle string) bool {
	for _, item := range haystack {
		if strings.EqualFold(item, needle) {
			return true
		}
	}
	return false
}

func marshalData(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return string(encoded)
}
