// Package session orchestrates one analysis session end to end: slot-limit
// pre-check, session record, slot creation, the bounded poll loop, mode
// finalization, slot drop and result persistence.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	pgdest "github.com/SofiaNechaeva/wal-analyzer/connectors/destinations/postgres"
	pgsource "github.com/SofiaNechaeva/wal-analyzer/connectors/sources/postgres"

	"github.com/SofiaNechaeva/wal-analyzer/connectors/destinations/disk"
	"github.com/SofiaNechaeva/wal-analyzer/internal/aggregate"
	"github.com/SofiaNechaeva/wal-analyzer/internal/decode"
	"github.com/SofiaNechaeva/wal-analyzer/internal/filter"
	"github.com/SofiaNechaeva/wal-analyzer/internal/mask"
	"github.com/SofiaNechaeva/wal-analyzer/internal/metastore"
	"github.com/SofiaNechaeva/wal-analyzer/internal/report"
	"github.com/SofiaNechaeva/wal-analyzer/internal/scheduler"
	"github.com/SofiaNechaeva/wal-analyzer/pkg/event"
)

var validate = validator.New()

// SlotSource is the replication-slot surface a session drives. The postgres
// implementation is the default; tests inject fakes.
type SlotSource interface {
	Name() string
	Create(ctx context.Context) error
	Drop(ctx context.Context) error
	Fetch(ctx context.Context) ([]string, error)
}

// ChangeLogWriter persists full-mode rows to the change-log table.
type ChangeLogWriter interface {
	Write(ctx context.Context, rows []pgdest.LogRow) (int, error)
}

// Orchestrator builds and runs analysis sessions. Zero-value collaborator
// fields fall back to the real postgres/os implementations.
type Orchestrator struct {
	Store    *metastore.Store
	Renderer report.Renderer
	Fs       afero.Fs
	Interval time.Duration
	WorkDir  string
	Tracer   trace.Tracer

	NewSlotSource  func(dsn, name string, plugin event.Plugin) SlotSource
	NewChangeLog   func(dsn string) ChangeLogWriter
	EnsureCapacity func(ctx context.Context, dsn string) error
	Now            func() time.Time
}

// Session is the handle to a running background session.
type Session struct {
	ID       string
	SlotName string
	Cancel   context.CancelFunc
	Done     <-chan struct{}
}

// Start validates the config, runs the slot-limit pre-check, records the
// session, creates the slot and spawns the poll loop in the background.
// The returned handle carries cancellation and completion; the session still
// finalizes (drop slot, persist result) after Cancel.
func (o *Orchestrator) Start(ctx context.Context, dsn string, cfg event.SlotConfig) (*Session, error) {
	cfg = cfg.Normalized()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate slot config: %w", err)
	}
	if _, err := decode.ForPlugin(cfg.Plugin); err != nil {
		return nil, err
	}
	if err := o.ensureCapacity(ctx, dsn); err != nil {
		return nil, err
	}

	id, err := o.Store.SaveSession(ctx, dsn, pgsource.DatabaseName(dsn), cfg)
	if err != nil {
		return nil, err
	}

	slot := o.newSlotSource(dsn, cfg.SlotName, cfg.Plugin)
	if err := slot.Create(ctx); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := o.run(runCtx, dsn, cfg, slot); err != nil {
			log.Printf("session %s: %v", cfg.SlotName, err)
		}
	}()
	return &Session{ID: id, SlotName: cfg.SlotName, Cancel: cancel, Done: done}, nil
}

// RunSession runs one session synchronously in the calling goroutine. The
// worker binary uses this after loading the config snapshot for a slot.
func (o *Orchestrator) RunSession(ctx context.Context, dsn string, cfg event.SlotConfig) error {
	cfg = cfg.Normalized()
	slot := o.newSlotSource(dsn, cfg.SlotName, cfg.Plugin)
	if err := slot.Create(ctx); err != nil {
		return err
	}
	return o.run(ctx, dsn, cfg, slot)
}

// runner is one analysis mode: a per-tick cycle plus a finalizer producing
// the session's result descriptor.
type runner struct {
	cycle    func(ctx context.Context) error
	finalize func(ctx context.Context) (string, error)
}

func (o *Orchestrator) run(ctx context.Context, dsn string, cfg event.SlotConfig, slot SlotSource) error {
	tracer := o.Tracer
	if tracer == nil {
		tracer = otel.Tracer("wal-analyzer/session")
	}
	ctx, span := tracer.Start(ctx, "session.run", trace.WithAttributes(
		attribute.String("slot", cfg.SlotName),
		attribute.String("analysis_type", string(cfg.AnalysisType)),
	))
	defer span.End()

	var result string
	var runErr error

	r, err := o.buildRunner(dsn, cfg, slot)
	if err != nil {
		// An unusable target (unknown plugin, bad disk path) ends the
		// session with the failure as its recorded result, not a crash.
		log.Printf("session %s: %v", cfg.SlotName, err)
		result = err.Error()
	} else {
		sched := &scheduler.Scheduler{
			Interval: o.Interval,
			Duration: cfg.RunDuration(),
			Tracer:   o.Tracer,
			Cycle:    r.cycle,
			Finalize: func(ctx context.Context) error {
				res, err := r.finalize(ctx)
				if err != nil {
					result = fmt.Sprintf("error: %v", err)
					return err
				}
				result = res
				return nil
			},
		}
		runErr = sched.Run(ctx)
	}

	// Cleanup runs even when the run context was cancelled: the slot must not
	// be left holding WAL, and the record must leave the active state.
	cleanupCtx := context.WithoutCancel(ctx)
	if err := slot.Drop(cleanupCtx); err != nil {
		log.Printf("session %s: drop slot: %v", cfg.SlotName, err)
	}
	if result == "" {
		result = "completed"
	}
	if err := o.Store.UpdateSessionResult(cleanupCtx, cfg.SlotName, result); err != nil {
		log.Printf("session %s: persist result: %v", cfg.SlotName, err)
	}
	return runErr
}

func (o *Orchestrator) buildRunner(dsn string, cfg event.SlotConfig, slot SlotSource) (*runner, error) {
	dec, err := decode.ForPlugin(cfg.Plugin)
	if err != nil {
		return nil, err
	}
	crit := filter.FromConfig(cfg)

	switch cfg.AnalysisType {
	case event.AnalysisSummary:
		return o.summaryRunner(slot, dec, crit, cfg), nil
	case event.AnalysisFull:
		return o.fullRunner(dsn, slot, dec, crit, cfg)
	case event.AnalysisHistory:
		return o.historyRunner(slot, dec, crit, cfg), nil
	default:
		return nil, fmt.Errorf("unknown analysis type %q", cfg.AnalysisType)
	}
}

// summaryRunner feeds each cycle's filtered events to the aggregator exactly
// once, then renders the counters and clears them.
func (o *Orchestrator) summaryRunner(slot SlotSource, dec decode.Decoder, crit filter.Criteria, cfg event.SlotConfig) *runner {
	agg := aggregate.New(o.Store, cfg.SlotName, cfg.PeriodHours)
	return &runner{
		cycle: func(ctx context.Context) error {
			payloads, err := slot.Fetch(ctx)
			if err != nil {
				return err
			}
			events, _ := decode.Batch(dec, payloads)
			kept := crit.Apply(events)
			lines := make([]string, 0, len(kept))
			for _, ev := range kept {
				if ev.IsRaw() {
					// opaque lines carry no timestamps to bucket
					continue
				}
				line, err := ev.Line()
				if err != nil {
					continue
				}
				lines = append(lines, line)
			}
			_, err = agg.ConsumeLines(ctx, lines)
			return err
		},
		finalize: func(ctx context.Context) (string, error) {
			sum, err := report.LoadSummary(ctx, o.Store, cfg.SlotName)
			if err != nil {
				return "", err
			}
			result, err := o.Renderer.RenderSummary(ctx, cfg.SlotName, sum, cfg.SummaryPDF, cfg.SummaryHTML)
			if err != nil {
				return "", err
			}
			if err := o.Store.ClearAggregates(ctx, cfg.SlotName); err != nil {
				return "", err
			}
			return result, nil
		},
	}
}

// fullRunner archives filtered events verbatim, either into one dump file per
// session or into the change-log table on the source database.
func (o *Orchestrator) fullRunner(dsn string, slot SlotSource, dec decode.Decoder, crit filter.Criteria, cfg event.SlotConfig) (*runner, error) {
	if cfg.SaveTarget == event.SaveTargetPostgres {
		writer := o.newChangeLog(dsn)
		total := 0
		return &runner{
			cycle: func(ctx context.Context) error {
				payloads, err := slot.Fetch(ctx)
				if err != nil {
					return err
				}
				rows := pgdest.BuildLogRows(payloads, crit)
				n, err := writer.Write(ctx, rows)
				total += n
				return err
			},
			finalize: func(_ context.Context) (string, error) {
				return fmt.Sprintf("%d changes written to data_change_log", total), nil
			},
		}, nil
	}

	fs := o.fs()
	if err := disk.ValidateDir(fs, cfg.DiskPath); err != nil {
		return nil, err
	}
	ext, err := decode.FileExtension(cfg.Plugin)
	if err != nil {
		return nil, err
	}
	sink := disk.NewSink(fs, filepath.Join(cfg.DiskPath, disk.DumpFilename(cfg.SlotName, ext, o.now())))
	total := 0
	return &runner{
		cycle: func(ctx context.Context) error {
			payloads, err := slot.Fetch(ctx)
			if err != nil {
				return err
			}
			events, _ := decode.Batch(dec, payloads)
			n, err := sink.AppendEvents(crit.Apply(events))
			total += n
			return err
		},
		finalize: func(_ context.Context) (string, error) {
			return fmt.Sprintf("%d records in %s", total, sink.Path()), nil
		},
	}, nil
}

// historyRunner sinks filtered events during the run, then extracts each
// configured identifier's ordered change series, masks the configured fields
// and hands the series to the renderer.
func (o *Orchestrator) historyRunner(slot SlotSource, dec decode.Decoder, crit filter.Criteria, cfg event.SlotConfig) *runner {
	sink := disk.NewSink(o.fs(), filepath.Join(o.WorkDir, cfg.SlotName+"_events.jsonl"))
	return &runner{
		cycle: func(ctx context.Context) error {
			payloads, err := slot.Fetch(ctx)
			if err != nil {
				return err
			}
			events, _ := decode.Batch(dec, payloads)
			_, err = sink.AppendEvents(crit.Apply(events))
			return err
		},
		finalize: func(ctx context.Context) (string, error) {
			lines, err := sink.ReadLines()
			if err != nil {
				return "", err
			}
			events := make([]event.Event, 0, len(lines))
			for _, line := range lines {
				var ev event.Event
				if err := json.Unmarshal([]byte(line), &ev); err != nil {
					log.Printf("session %s: skipping malformed sink record: %v", cfg.SlotName, err)
					continue
				}
				// the sink may carry events from any watched table; only the
				// configured history table goes into the per-id series
				if ev.Table != cfg.HistoryTable {
					continue
				}
				events = append(events, ev)
			}

			paths := make([]string, 0, len(cfg.HistoryIDs))
			for _, id := range cfg.HistoryIDs {
				idCrit := filter.Criteria{IDs: []string{id}}
				changes := make([]report.Change, 0)
				for _, ev := range events {
					if !idCrit.Match(ev) {
						continue
					}
					changes = append(changes, report.Change{
						OldData: mask.Fields(ev.OldData, cfg.MaskFields),
						NewData: mask.Fields(ev.NewData, cfg.MaskFields),
					})
				}
				if len(changes) == 0 {
					continue
				}
				path, err := o.Renderer.AppendHistory(ctx, cfg.SlotName, cfg.HistoryTable, id, changes)
				if err != nil {
					return "", err
				}
				paths = append(paths, path)
			}
			if len(paths) == 0 {
				return report.NoMatchingIDs, nil
			}
			return strings.Join(paths, ";"), nil
		},
	}
}

func (o *Orchestrator) newSlotSource(dsn, name string, plugin event.Plugin) SlotSource {
	if o.NewSlotSource != nil {
		return o.NewSlotSource(dsn, name, plugin)
	}
	return pgsource.NewSlotHandle(dsn, name, plugin)
}

func (o *Orchestrator) newChangeLog(dsn string) ChangeLogWriter {
	if o.NewChangeLog != nil {
		return o.NewChangeLog(dsn)
	}
	return pgdest.NewChangeLog(dsn)
}

func (o *Orchestrator) ensureCapacity(ctx context.Context, dsn string) error {
	if o.EnsureCapacity != nil {
		return o.EnsureCapacity(ctx, dsn)
	}
	return pgsource.EnsureSlotCapacity(ctx, dsn)
}

func (o *Orchestrator) fs() afero.Fs {
	if o.Fs != nil {
		return o.Fs
	}
	return afero.NewOsFs()
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}
