// Package engine binds the query-time Orchestrator, the write-time
// Coordinator and the background Reconciler into the single facade
// the MCP server and CLI front doors call into. It is the seam where
// the collection-version counter the Orchestrator's cache key depends
// on gets bumped on every successful write.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hybridsearch/docengine/internal/apperrors"
	"github.com/hybridsearch/docengine/internal/coordinate"
	"github.com/hybridsearch/docengine/internal/model"
	"github.com/hybridsearch/docengine/internal/orchestrate"
	"github.com/hybridsearch/docengine/internal/reconcile"
)

var _ orchestrate.CollectionVersions = (*CollectionVersions)(nil)

// Engine is the single entry point for search, index and delete
// operations against a hybrid search deployment.
type Engine struct {
	Orchestrator *orchestrate.Orchestrator
	Coordinator  *coordinate.Coordinator
	Reconciler   *reconcile.Reconciler
	Versions     *CollectionVersions
}

// New constructs an Engine from its three collaborators. Versions is
// created fresh; callers that also pass Versions into the
// Orchestrator's Config.Collections must share the same instance.
func New(orch *orchestrate.Orchestrator, coord *coordinate.Coordinator, rec *reconcile.Reconciler, versions *CollectionVersions) *Engine {
	if versions == nil {
		versions = NewCollectionVersions()
	}
	return &Engine{Orchestrator: orch, Coordinator: coord, Reconciler: rec, Versions: versions}
}

// Search runs a query through the full read pipeline.
func (e *Engine) Search(ctx context.Context, req model.SearchRequest) (model.SearchResponse, error) {
	return e.Orchestrator.Search(ctx, req)
}

// Index runs the write protocol for one document: assigns or validates
// the external id, builds a model.Document, and hands it to the
// Coordinator. An AlreadyIndexedError from the Coordinator is reported
// back as AlreadyIndexed=true rather than as a failure, since a
// resubmission of identical content is the expected idempotent case.
func (e *Engine) Index(ctx context.Context, req model.IndexRequest) (model.IndexResponse, error) {
	externalID := req.DocID
	if externalID == "" {
		externalID = model.NewExternalID()
	} else if err := model.ValidateExternalID(externalID); err != nil {
		return model.IndexResponse{}, apperrors.New(apperrors.ErrCodeInvalidInput, "doc_id must be a well-formed UUID", err)
	}

	doc := model.Document{
		DocID:     model.DocId{Collection: req.Collection, ExternalID: externalID},
		Title:     req.Title,
		URI:       req.Title,
		FullText:  req.Content,
		Metadata:  req.Metadata,
		IndexedAt: time.Now(),
	}

	docID, chunkCount, err := e.Coordinator.Upsert(ctx, doc)
	var docErr *apperrors.DocError
	if errors.As(err, &docErr) && docErr.Code == apperrors.ErrCodeAlreadyIndexed {
		return model.IndexResponse{DocID: externalID, Version: docID.Version, AlreadyIndexed: true}, nil
	}
	if err != nil {
		return model.IndexResponse{}, err
	}

	e.Versions.Bump(req.Collection)
	return model.IndexResponse{DocID: externalID, Version: docID.Version, ChunkCount: chunkCount}, nil
}

// Delete removes a document from both indices and the chunk store.
func (e *Engine) Delete(ctx context.Context, docID model.DocId) error {
	if err := e.Coordinator.Delete(ctx, docID); err != nil {
		return err
	}
	e.Versions.Bump(docID.Collection)
	return nil
}

// Reconcile runs one pass of the sampled journal audit.
func (e *Engine) Reconcile(ctx context.Context) (reconcile.Report, error) {
	if e.Reconciler == nil {
		return reconcile.Report{}, nil
	}
	return e.Reconciler.Run(ctx)
}

// CollectionVersions is an in-memory implementation of
// orchestrate.CollectionVersions: a per-collection mutation counter
// bumped on every successful write, used to auto-invalidate the result
// cache without an explicit purge call.
type CollectionVersions struct {
	mu       sync.Mutex
	counters map[string]uint64
}

// NewCollectionVersions constructs an empty counter set.
func NewCollectionVersions() *CollectionVersions {
	return &CollectionVersions{counters: make(map[string]uint64)}
}

// Version returns the current counter for collection, 0 if untouched.
func (v *CollectionVersions) Version(collection string) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.counters[collection]
}

// Bump increments the counter for collection.
func (v *CollectionVersions) Bump(collection string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.counters[collection]++
}
