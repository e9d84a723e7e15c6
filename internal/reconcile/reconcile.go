// Package reconcile implements the periodic reconciliation task: a
// sampled audit of recent journal entries against both indices' actual
// chunk counts, with repair-then-tombstone escalation on persistent
// drift.
package reconcile

import (
	"context"
	"log/slog"

	"github.com/hybridsearch/docengine/internal/apperrors"
	"github.com/hybridsearch/docengine/internal/coordinate"
	"github.com/hybridsearch/docengine/internal/model"
)

// DefaultSampleSize matches the spec's "zero drift over a 1k-document
// sample" target.
const DefaultSampleSize = 1000

// DefaultMaxRepairAttempts bounds how many times Run retries a
// re-upsert before tombstoning a persistently drifted document.
const DefaultMaxRepairAttempts = 1

// ChunkCounter reports how many chunks an index currently holds for a
// document, used to compare against the journaled expected count.
type ChunkCounter interface {
	ChunkCount(ctx context.Context, docID model.DocId) (int, error)
}

// Repairer re-runs the upsert protocol for a document whose chunk
// counts have drifted. Implementations re-fetch the document's current
// content (the journal itself only stores the content hash, not the
// text) and call Coordinator.Upsert again.
type Repairer interface {
	Reupsert(ctx context.Context, docID model.DocId) error
}

// Tombstoner marks a document as irreparably inconsistent so it stops
// being served, and raises an operator-visible alert.
type Tombstoner interface {
	Tombstone(ctx context.Context, docID model.DocId, reason string) error
}

// Drift describes one document whose journaled chunk count disagrees
// with what one or both indices actually hold.
type Drift struct {
	DocID          model.DocId
	Expected       int
	LexicalActual  int
	VectorActual   int
	Repaired       bool
	Tombstoned     bool
}

// Report summarizes one reconciliation run.
type Report struct {
	Sampled   int
	Drifts    []Drift
	DriftRate float64
}

// Reconciler runs the sampled audit.
type Reconciler struct {
	Journal           coordinate.Journal
	Lexical           ChunkCounter
	Vector            ChunkCounter
	Repairer          Repairer
	Tombstones        Tombstoner
	SampleSize        int
	MaxRepairAttempts int
}

// New constructs a Reconciler, applying spec defaults for zero-valued
// fields.
func New(journal coordinate.Journal, lexical, vector ChunkCounter, repairer Repairer, tombstones Tombstoner) *Reconciler {
	return &Reconciler{
		Journal:           journal,
		Lexical:           lexical,
		Vector:            vector,
		Repairer:          repairer,
		Tombstones:        tombstones,
		SampleSize:        DefaultSampleSize,
		MaxRepairAttempts: DefaultMaxRepairAttempts,
	}
}

// Run samples the most recent journal entries, checks each against
// both indices' actual chunk counts, and attempts repair-then-tombstone
// on any drift found.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	sampleSize := r.SampleSize
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}

	entries, err := r.Journal.Recent(ctx, sampleSize)
	if err != nil {
		return Report{}, apperrors.IndexInconsistentError("failed to read journal sample", err)
	}

	var drifts []Drift
	for _, entry := range entries {
		drift, ok := r.checkEntry(ctx, entry)
		if ok {
			r.resolve(ctx, &drift)
			drifts = append(drifts, drift)
		}
	}

	rate := 0.0
	if len(entries) > 0 {
		rate = float64(len(drifts)) / float64(len(entries))
	}

	report := Report{Sampled: len(entries), Drifts: drifts, DriftRate: rate}
	if len(drifts) > 0 {
		slog.Warn("reconciliation found drift", slog.Int("sampled", report.Sampled), slog.Int("drifted", len(drifts)), slog.Float64("drift_rate", rate))
	}
	return report, nil
}

func (r *Reconciler) checkEntry(ctx context.Context, entry coordinate.JournalEntry) (Drift, bool) {
	lexCount, err := r.Lexical.ChunkCount(ctx, entry.DocID)
	if err != nil {
		slog.Warn("lexical chunk count failed during reconciliation", slog.String("doc_id", entry.DocID.String()), slog.String("error", err.Error()))
	}
	vecCount, err := r.Vector.ChunkCount(ctx, entry.DocID)
	if err != nil {
		slog.Warn("vector chunk count failed during reconciliation", slog.String("doc_id", entry.DocID.String()), slog.String("error", err.Error()))
	}

	if lexCount == entry.ChunkCount && vecCount == entry.ChunkCount {
		return Drift{}, false
	}
	return Drift{DocID: entry.DocID, Expected: entry.ChunkCount, LexicalActual: lexCount, VectorActual: vecCount}, true
}

// resolve attempts repair up to MaxRepairAttempts times; if the
// document is still drifted afterward, it's tombstoned and an alert is
// raised via Tombstoner.
func (r *Reconciler) resolve(ctx context.Context, drift *Drift) {
	attempts := r.MaxRepairAttempts
	if attempts <= 0 {
		attempts = DefaultMaxRepairAttempts
	}

	if r.Repairer != nil {
		for i := 0; i < attempts; i++ {
			if err := r.Repairer.Reupsert(ctx, drift.DocID); err != nil {
				slog.Warn("reconciliation repair attempt failed", slog.String("doc_id", drift.DocID.String()), slog.Int("attempt", i+1), slog.String("error", err.Error()))
				continue
			}
			recheck, stillDrifted := r.checkEntry(ctx, coordinate.JournalEntry{DocID: drift.DocID, ChunkCount: drift.Expected})
			if !stillDrifted {
				drift.Repaired = true
				return
			}
			drift.LexicalActual, drift.VectorActual = recheck.LexicalActual, recheck.VectorActual
		}
	}

	if r.Tombstones != nil {
		if err := r.Tombstones.Tombstone(ctx, drift.DocID, "irreparable cross-index drift after repair attempts"); err != nil {
			slog.Error("failed to tombstone drifted document", slog.String("doc_id", drift.DocID.String()), slog.String("error", err.Error()))
			return
		}
		drift.Tombstoned = true
	}
}
