package reconcile_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridsearch/docengine/internal/coordinate"
	"github.com/hybridsearch/docengine/internal/model"
	"github.com/hybridsearch/docengine/internal/reconcile"
)

type fakeJournal struct {
	entries []coordinate.JournalEntry
}

func (f *fakeJournal) Find(ctx context.Context, collection, externalID, contentHash, stage string) (coordinate.JournalEntry, bool, error) {
	return coordinate.JournalEntry{}, false, nil
}
func (f *fakeJournal) Append(ctx context.Context, entry coordinate.JournalEntry) error { return nil }
func (f *fakeJournal) Recent(ctx context.Context, n int) ([]coordinate.JournalEntry, error) {
	if n > len(f.entries) {
		n = len(f.entries)
	}
	return f.entries[:n], nil
}
func (f *fakeJournal) LatestVersion(ctx context.Context, collection, externalID string) (int, error) {
	return 0, nil
}

type constCounter map[string]int

func (c constCounter) ChunkCount(ctx context.Context, docID model.DocId) (int, error) {
	return c[docID.String()], nil
}

type countingRepairer struct {
	calls int
}

func (r *countingRepairer) Reupsert(ctx context.Context, docID model.DocId) error {
	r.calls++
	return nil
}

type recordingTombstoner struct {
	tombstoned []model.DocId
}

func (t *recordingTombstoner) Tombstone(ctx context.Context, docID model.DocId, reason string) error {
	t.tombstoned = append(t.tombstoned, docID)
	return nil
}

func TestRunFindsNoDriftWhenCountsMatch(t *testing.T) {
	doc := model.DocId{Collection: "docs", ExternalID: "a", Version: 1}
	j := &fakeJournal{entries: []coordinate.JournalEntry{{DocID: doc, ChunkCount: 3}}}
	lex := constCounter{doc.String(): 3}
	vec := constCounter{doc.String(): 3}

	r := reconcile.New(j, lex, vec, nil, nil)
	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sampled)
	assert.Empty(t, report.Drifts)
	assert.Zero(t, report.DriftRate)
}

func TestRunTombstonesAfterFailedRepair(t *testing.T) {
	doc := model.DocId{Collection: "docs", ExternalID: "a", Version: 1}
	j := &fakeJournal{entries: []coordinate.JournalEntry{{DocID: doc, ChunkCount: 3}}}
	lex := constCounter{doc.String(): 2} // permanently drifted
	vec := constCounter{doc.String(): 3}
	repairer := &countingRepairer{}
	tombstoner := &recordingTombstoner{}

	r := reconcile.New(j, lex, vec, repairer, tombstoner)
	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	assert.True(t, report.Drifts[0].Tombstoned)
	assert.Equal(t, 1, repairer.calls)
	assert.Len(t, tombstoner.tombstoned, 1)
	assert.InDelta(t, 1.0, report.DriftRate, 1e-9)
}

func TestRunWithoutRepairerTombstonesDirectly(t *testing.T) {
	doc := model.DocId{Collection: "docs", ExternalID: "a", Version: 1}
	j := &fakeJournal{entries: []coordinate.JournalEntry{{DocID: doc, ChunkCount: 3}}}
	lex := constCounter{doc.String(): 1}
	vec := constCounter{doc.String(): 3}
	tombstoner := &recordingTombstoner{}

	r := reconcile.New(j, lex, vec, nil, tombstoner)
	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	assert.True(t, report.Drifts[0].Tombstoned)
}

func TestRunPropagatesJournalError(t *testing.T) {
	j := &erroringJournal{}
	r := reconcile.New(j, constCounter{}, constCounter{}, nil, nil)
	_, err := r.Run(context.Background())
	require.Error(t, err)
}

type erroringJournal struct{ fakeJournal }

func (e *erroringJournal) Recent(ctx context.Context, n int) ([]coordinate.JournalEntry, error) {
	return nil, errors.New("journal unavailable")
}
