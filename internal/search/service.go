package search

import (
	"context"

	"go.uber.org/zap"

	"jewelry/api/internal/store"
)

// Index is the Meilisearch side of the service.
type Index interface {
	Searcher
	Healthy() bool
	IndexProducts(records []ProductRecord) error
	DeleteProduct(id string) error
}

// Service is the facade that tries the index first and falls back to the catalog.
type Service struct {
	index    Index
	fallback Searcher
	logger   *zap.Logger
	async    func(func())
}

// NewService creates a search service. index may be nil if Meilisearch is not configured.
func NewService(index Index, fallback Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{index: index, fallback: fallback, logger: logger, async: func(f func()) { go f() }}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	q = q.normalized()
	if s.indexReady() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceIndex}
		}
		s.logger.Warn("meilisearch error, falling back to catalog", zap.Error(err))
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("catalog search failed", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text, Source: SourceCatalog}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceCatalog}
}

// IndexProduct pushes a product to the index in the background. Inactive
// products are removed instead.
func (s *Service) IndexProduct(p store.Product) {
	if !s.indexReady() {
		return
	}
	if !p.IsActive {
		s.DeleteProduct(p.ID)
		return
	}
	record := RecordFromProduct(p)
	s.async(func() {
		if err := s.index.IndexProducts([]ProductRecord{record}); err != nil {
			s.logger.Warn("index product failed", zap.String("product_id", record.ID), zap.Error(err))
		}
	})
}

// DeleteProduct removes a product from the index in the background.
func (s *Service) DeleteProduct(id string) {
	if !s.indexReady() {
		return
	}
	s.async(func() {
		if err := s.index.DeleteProduct(id); err != nil {
			s.logger.Warn("delete product from index failed", zap.String("product_id", id), zap.Error(err))
		}
	})
}

// Reindex pushes every active product synchronously and returns how many were sent.
func (s *Service) Reindex(products []store.Product) (int, error) {
	if !s.indexReady() {
		return 0, errUnhealthy
	}
	records := make([]ProductRecord, 0, len(products))
	for _, p := range products {
		if p.IsActive {
			records = append(records, RecordFromProduct(p))
		}
	}
	if err := s.index.IndexProducts(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
