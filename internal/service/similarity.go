package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/ModGuard/internal/config"
	"github.com/Strob0t/ModGuard/internal/domain"
	"github.com/Strob0t/ModGuard/internal/port/llm"
	"github.com/Strob0t/ModGuard/internal/similarity"
)

// Metadata keys stored with similarity records.
const (
	metaCaseID      = "case_id"
	metaCategory    = "category"
	metaSeverity    = "severity"
	metaDecision    = "decision"
	metaContentType = "content_type"
	metaAuthorID    = "author_id"
	metaPolicyTitle = "title"
)

// RelatedContent is the similarity context gathered for one submission.
type RelatedContent struct {
	Flagged    []similarity.Match `json:"flagged,omitempty"`
	Historical []similarity.Match `json:"historical,omitempty"`
	Policies   []similarity.Match `json:"policies,omitempty"`
}

// SimilarityService embeds text and reads and writes the similarity collections.
type SimilarityService struct {
	index    *similarity.Index
	embedder llm.Embedder
	cfg      *config.Similarity
}

// NewSimilarityService creates a SimilarityService.
func NewSimilarityService(index *similarity.Index, embedder llm.Embedder, cfg *config.Similarity) *SimilarityService {
	return &SimilarityService{index: index, embedder: embedder, cfg: cfg}
}

func (s *SimilarityService) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("embed: empty vector: %w", domain.ErrValidation)
	}
	return vec, nil
}

// Related queries the three collections for text in parallel.
func (s *SimilarityService) Related(ctx context.Context, text string) (*RelatedContent, error) {
	vec, err := s.embed(ctx, text)
	if err != nil {
		return nil, err
	}

	var out RelatedContent
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := s.index.Query(gctx, similarity.CollectionFlagged, vec, s.cfg.FlaggedK, nil)
		out.Flagged = m
		return err
	})
	g.Go(func() error {
		m, err := s.index.Query(gctx, similarity.CollectionHistorical, vec, s.cfg.HistoricalK, nil)
		out.Historical = m
		return err
	})
	g.Go(func() error {
		m, err := s.index.Query(gctx, similarity.CollectionPolicy, vec, s.cfg.PolicyK, nil)
		out.Policies = m
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}
	return &out, nil
}

// SimilarCases returns historical cases near text, restricted to category when set.
func (s *SimilarityService) SimilarCases(ctx context.Context, text, category string, k int) ([]similarity.Match, error) {
	vec, err := s.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	var filter similarity.Filter
	if category != "" {
		filter = similarity.Filter{metaCategory: category}
	}
	return s.index.Query(ctx, similarity.CollectionHistorical, vec, k, filter)
}

// AddFlagged records confirmed violating content.
func (s *SimilarityService) AddFlagged(ctx context.Context, id, text string, metadata map[string]any) error {
	return s.add(ctx, similarity.CollectionFlagged, id, text, metadata)
}

// AddHistorical records the summary of a decided case.
func (s *SimilarityService) AddHistorical(ctx context.Context, id, summary string, metadata map[string]any) error {
	return s.add(ctx, similarity.CollectionHistorical, id, summary, metadata)
}

// AddPolicy records one policy excerpt.
func (s *SimilarityService) AddPolicy(ctx context.Context, id, text string, metadata map[string]any) error {
	return s.add(ctx, similarity.CollectionPolicy, id, text, metadata)
}

// add inserts a record. A record that already exists is left in place.
func (s *SimilarityService) add(ctx context.Context, coll, id, text string, metadata map[string]any) error {
	vec, err := s.embed(ctx, text)
	if err != nil {
		return err
	}
	err = s.index.Insert(ctx, coll, id, text, vec, metadata)
	if errors.Is(err, domain.ErrConflict) {
		slog.DebugContext(ctx, "similarity record already present", "collection", coll, "id", id)
		return nil
	}
	return err
}

// Forget removes the flagged and historical records indexed under id.
func (s *SimilarityService) Forget(ctx context.Context, id string) error {
	var errs []error
	for _, coll := range []string{similarity.CollectionFlagged, similarity.CollectionHistorical} {
		if err := s.index.Remove(ctx, coll, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reset empties one collection.
func (s *SimilarityService) Reset(ctx context.Context, coll string) error {
	return s.index.Reset(ctx, coll)
}

// Counts returns the record count of every collection.
func (s *SimilarityService) Counts() map[string]int {
	out := make(map[string]int, len(similarity.Collections))
	for _, c := range similarity.Collections {
		out[c] = s.index.Count(c)
	}
	return out
}
