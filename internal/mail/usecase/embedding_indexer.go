package usecase

import (
	"context"
	"fmt"
	"log"
	"sync"

	maildomain "mailsense-backend/internal/mail/domain"
	"mailsense-backend/internal/mail/repository"
	"mailsense-backend/pkg/chroma"
)

const (
	defaultSearchLimit  = 10
	backfillScanLimit   = 200
	backfillConcurrency = 5
)

// VectorIndex is the slice of the vector store the indexer needs.
type VectorIndex interface {
	UpsertMessageEmbedding(ctx context.Context, messageID, userID, subject, text string) ([]float32, error)
	SemanticSearch(ctx context.Context, userID, query string, limit int) ([]chroma.SearchHit, error)
}

// SearchResult is one ranked semantic search match with its enrichment.
type SearchResult struct {
	Message      maildomain.Message `json:"message"`
	Summary      string             `json:"summary,omitempty"`
	UrgencyScore int                `json:"urgency_score"`
	Distance     float64            `json:"distance"`
}

// EmbeddingIndexer keeps the vector index in step with enrichments and
// serves semantic search over it.
type EmbeddingIndexer struct {
	index          VectorIndex
	messageRepo    repository.MessageRepository
	enrichmentRepo repository.EnrichmentRepository
}

func NewEmbeddingIndexer(
	index VectorIndex,
	messageRepo repository.MessageRepository,
	enrichmentRepo repository.EnrichmentRepository,
) *EmbeddingIndexer {
	return &EmbeddingIndexer{
		index:          index,
		messageRepo:    messageRepo,
		enrichmentRepo: enrichmentRepo,
	}
}

// IndexMessage embeds the message's enriched representation and stores the
// vector both in the index and on the enrichment row. Messages without a
// summary are not indexable yet.
func (x *EmbeddingIndexer) IndexMessage(ctx context.Context, message *maildomain.Message, enrichment *maildomain.Enrichment) error {
	if enrichment == nil || enrichment.Summary == "" {
		return nil
	}

	// The embedded text is the enriched representation, not the raw body;
	// a short summary embeds far better than a marketing template.
	text := fmt.Sprintf("Subject: %s\nFrom: %s <%s>\n\n%s",
		message.Subject, message.FromDisplayName, message.FromEmail, enrichment.Summary)

	vector, err := x.index.UpsertMessageEmbedding(ctx, message.ID, message.UserID, message.Subject, text)
	if err != nil {
		return err
	}

	return x.enrichmentRepo.UpdateEmbedding(message.ID, vector)
}

// Search runs a semantic query scoped to the user and joins the winning
// messages back with their enrichments. An empty index never errors; it
// returns an empty result set.
func (x *EmbeddingIndexer) Search(ctx context.Context, userID, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	hits, err := x.index.SemanticSearch(ctx, userID, query, limit)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []SearchResult{}, nil
	}

	ids := make([]string, 0, len(hits))
	distances := make(map[string]float64, len(hits))
	for _, hit := range hits {
		ids = append(ids, hit.MessageID)
		distances[hit.MessageID] = hit.Distance
	}

	messages, err := x.messageRepo.GetByIDs(ids)
	if err != nil {
		return nil, err
	}
	enrichments, err := x.enrichmentRepo.GetByMessageIDs(ids)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(messages))
	for _, m := range messages {
		if m.UserID != userID {
			// Stale index entry pointing at another user's row.
			continue
		}
		result := SearchResult{Message: m, Distance: distances[m.ID]}
		if e, ok := enrichments[m.ID]; ok {
			result.Summary = e.Summary
			result.UrgencyScore = e.UrgencyScore
		}
		results = append(results, result)
	}
	return results, nil
}

// Backfill indexes enrichments whose vector is missing, in small concurrent
// groups. Returns how many were indexed.
func (x *EmbeddingIndexer) Backfill(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = backfillScanLimit
	}

	pending, err := x.enrichmentRepo.GetMissingEmbeddings(limit)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var indexed int
	var mu sync.Mutex
	for start := 0; start < len(pending); start += backfillConcurrency {
		end := start + backfillConcurrency
		if end > len(pending) {
			end = len(pending)
		}

		var wg sync.WaitGroup
		for _, enrichment := range pending[start:end] {
			wg.Add(1)
			go func(enrichment maildomain.Enrichment) {
				defer wg.Done()
				message, err := x.messageRepo.GetByID(enrichment.MessageID)
				if err != nil || message == nil {
					log.Printf("[Backfill] Skipping enrichment %s: message unavailable", enrichment.MessageID)
					return
				}
				if err := x.IndexMessage(ctx, message, &enrichment); err != nil {
					log.Printf("[Backfill] Failed to index message %s: %v", message.ID, err)
					return
				}
				mu.Lock()
				indexed++
				mu.Unlock()
			}(enrichment)
		}
		wg.Wait()
	}

	log.Printf("[Backfill] Indexed %d of %d pending embeddings", indexed, len(pending))
	return indexed, nil
}
