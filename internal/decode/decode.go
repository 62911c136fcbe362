// Package decode turns raw logical-decoder payloads into canonical events.
//
// Two wire formats are supported behind one interface: the structured
// wal2json envelope and the opaque test_decoding text line. A malformed
// payload is never fatal for a batch; the decoder logs and moves on.
package decode

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/SofiaNechaeva/wal-analyzer/pkg/event"
)

// Decoder converts one raw decoder payload into zero or more events.
type Decoder interface {
	Decode(payload string) ([]event.Event, error)
}

// ForPlugin returns the decoder for a plugin, or event.ErrUnknownPlugin.
func ForPlugin(plugin event.Plugin) (Decoder, error) {
	switch plugin {
	case event.PluginWal2JSON:
		return &Wal2JSONDecoder{}, nil
	case event.PluginTestDecoding:
		return &TestDecodingDecoder{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", event.ErrUnknownPlugin, plugin)
	}
}

// FileExtension returns the sink file extension for a plugin.
func FileExtension(plugin event.Plugin) (string, error) {
	switch plugin {
	case event.PluginWal2JSON:
		return "jsonl", nil
	case event.PluginTestDecoding:
		return "txt", nil
	default:
		return "", fmt.Errorf("%w: %q", event.ErrUnknownPlugin, plugin)
	}
}

type wal2jsonOldKeys struct {
	KeyNames  []string `json:"keynames"`
	KeyValues []any    `json:"keyvalues"`
}

type wal2jsonChange struct {
	Kind         string          `json:"kind"`
	Schema       string          `json:"schema"`
	Table        string          `json:"table"`
	ColumnNames  []string        `json:"columnnames"`
	ColumnValues []any           `json:"columnvalues"`
	OldKeys      wal2jsonOldKeys `json:"oldkeys"`
}

type wal2jsonEnvelope struct {
	Timestamp string           `json:"timestamp"`
	XID       uint64           `json:"xid"`
	Change    []wal2jsonChange `json:"change"`
}

// Wal2JSONDecoder parses the wal2json envelope
// {timestamp, xid, change: [{schema, table, kind, columnnames, columnvalues, oldkeys}]}.
type Wal2JSONDecoder struct{}

func (d *Wal2JSONDecoder) Decode(payload string) ([]event.Event, error) {
	var envelope wal2jsonEnvelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return nil, fmt.Errorf("decode wal2json payload: %w", err)
	}

	out := make([]event.Event, 0, len(envelope.Change))
	for _, change := range envelope.Change {
		oldData, ok := zipColumns(change.OldKeys.KeyNames, change.OldKeys.KeyValues)
		if !ok {
			log.Printf("decode: dropping %s change on %s.%s: old key name/value length mismatch",
				change.Kind, change.Schema, change.Table)
			continue
		}
		newData, ok := zipColumns(change.ColumnNames, change.ColumnValues)
		if !ok {
			log.Printf("decode: dropping %s change on %s.%s: column name/value length mismatch",
				change.Kind, change.Schema, change.Table)
			continue
		}
		out = append(out, event.Event{
			Timestamp: envelope.Timestamp,
			XID:       envelope.XID,
			Schema:    change.Schema,
			Table:     change.Table,
			Operation: event.Operation(strings.ToUpper(change.Kind)),
			OldData:   oldData,
			NewData:   newData,
		})
	}
	return out, nil
}

// zipColumns builds a field map from parallel name/value arrays. A length
// mismatch invalidates the change entry rather than the whole payload.
func zipColumns(names []string, values []any) (map[string]any, bool) {
	if len(names) != len(values) {
		return nil, false
	}
	if len(names) == 0 {
		return nil, true
	}
	out := make(map[string]any, len(names))
	for i, name := range names {
		out[name] = values[i]
	}
	return out, true
}

// TestDecodingDecoder keeps test_decoding output opaque. The line has no
// structured keys, so downstream filtering degrades to substring matching
// and aggregation does not apply; the value of this plugin is raw archival.
type TestDecodingDecoder struct{}

func (d *TestDecodingDecoder) Decode(payload string) ([]event.Event, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, nil
	}
	return []event.Event{{Raw: payload}}, nil
}

// Batch decodes a sequence of payloads, absorbing per-payload failures.
// It returns the decoded events and the number of payloads that failed.
func Batch(dec Decoder, payloads []string) ([]event.Event, int) {
	var out []event.Event
	failed := 0
	for _, payload := range payloads {
		events, err := dec.Decode(payload)
		if err != nil {
			failed++
			log.Printf("decode: skipping payload: %v", err)
			continue
		}
		out = append(out, events...)
	}
	return out, failed
}
