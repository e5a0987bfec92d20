package search

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Index is a search backend that also accepts writes.
type Index interface {
	Searcher
	IndexManual(record ManualRecord) error
	IndexManuals(records []ManualRecord) error
	IndexDocuments(records []DocumentRecord) error
	DeleteManualDocument(id string) error
}

// Service tries the index first and falls back to the database searcher.
// Index writes are fire-and-forget; failures are logged.
type Service struct {
	index    Index
	fallback Searcher
	logger   logrus.FieldLogger
	wg       sync.WaitGroup
}

// NewService accepts a nil index when Meilisearch is not configured.
func NewService(index Index, fallback Searcher, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{index: index, fallback: fallback, logger: logger.WithField("module", "search")}
}

func (s *Service) indexReady() bool {
	return s != nil && s.index != nil && s.index.Healthy()
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.indexReady() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}
		}
		s.logger.WithError(err).Warn("index search failed, falling back to postgres")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Engine: "none"}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.WithError(err).Error("postgres search failed")
		return Response{Results: []Result{}, Query: q.Text, Engine: "postgres"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "postgres"}
}

// SyncManual pushes the manual record, its active documents and the removal
// of documents that left the manual.
func (s *Service) SyncManual(manual ManualRecord, documents []DocumentRecord, removedDocumentIDs []string) {
	if !s.indexReady() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log := s.logger.WithField("manual_id", manual.ID)
		if err := s.index.IndexManual(manual); err != nil {
			log.WithError(err).Warn("index manual")
		}
		if err := s.index.IndexDocuments(documents); err != nil {
			log.WithError(err).Warn("index manual documents")
		}
		for _, id := range removedDocumentIDs {
			if err := s.index.DeleteManualDocument(id); err != nil {
				log.WithError(err).WithField("document_id", id).Warn("delete manual document")
			}
		}
	}()
}

// Reindex bulk-loads records into the index.
func (s *Service) Reindex(manuals []ManualRecord, documents []DocumentRecord) {
	if !s.indexReady() {
		return
	}
	if err := s.index.IndexManuals(manuals); err != nil {
		s.logger.WithError(err).Warn("reindex manuals")
	}
	if err := s.index.IndexDocuments(documents); err != nil {
		s.logger.WithError(err).Warn("reindex manual documents")
	}
}

// ReindexFromPG reloads every record from PostgreSQL into the index.
func (s *Service) ReindexFromPG(ctx context.Context, pg *PgFTS) {
	if !s.indexReady() || pg == nil {
		return
	}
	manuals, documents, err := pg.LoadAllRecords(ctx)
	if err != nil {
		s.logger.WithError(err).Error("reindex load failed")
		return
	}
	s.Reindex(manuals, documents)
}

// Wait blocks until pending index writes finish.
func (s *Service) Wait() {
	if s == nil {
		return
	}
	s.wg.Wait()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
