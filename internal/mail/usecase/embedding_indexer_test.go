package usecase

import (
	"context"
	"testing"
	"time"

	maildomain "mailsense-backend/internal/mail/domain"
	"mailsense-backend/pkg/chroma"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeEnriched(t *testing.T, messages *fakeMessageRepo, enrichments *fakeEnrichmentRepo, id, userID, subject, summary string) {
	t.Helper()
	_, _, err := messages.CreateIfAbsent(&maildomain.Message{
		ID:         id,
		ExternalID: "ext-" + id,
		Provider:   "gmail",
		UserID:     userID,
		Subject:    subject,
		ReceivedAt: time.Now(),
		Direction:  maildomain.DirectionIncoming,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, enrichments.Save(&maildomain.Enrichment{
		MessageID: id,
		UserID:    userID,
		Summary:   summary,
		Processed: true,
	}))
}

func TestIndexMessageRequiresSummary(t *testing.T) {
	index := newFakeIndex()
	messages := newFakeMessageRepo()
	enrichments := newFakeEnrichmentRepo()
	indexer := NewEmbeddingIndexer(index, messages, enrichments)

	message := &maildomain.Message{ID: "msg-1", UserID: "user-1"}

	err := indexer.IndexMessage(context.Background(), message, &maildomain.Enrichment{MessageID: "msg-1"})
	require.NoError(t, err)
	assert.Equal(t, 0, index.upserts)

	err = indexer.IndexMessage(context.Background(), message, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, index.upserts)
}

func TestIndexMessageStoresVector(t *testing.T) {
	index := newFakeIndex()
	messages := newFakeMessageRepo()
	enrichments := newFakeEnrichmentRepo()
	indexer := NewEmbeddingIndexer(index, messages, enrichments)

	storeEnriched(t, messages, enrichments, "msg-1", "user-1", "Budget", "Review the budget.")
	message, err := messages.GetByID("msg-1")
	require.NoError(t, err)
	enrichment, err := enrichments.GetByMessageID("msg-1")
	require.NoError(t, err)

	require.NoError(t, indexer.IndexMessage(context.Background(), message, enrichment))

	assert.Equal(t, 1, index.upserts)
	stored, err := enrichments.GetByMessageID("msg-1")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, stored.Embedding)
}

func TestSearchJoinsMessagesAndEnrichments(t *testing.T) {
	index := newFakeIndex()
	messages := newFakeMessageRepo()
	enrichments := newFakeEnrichmentRepo()
	indexer := NewEmbeddingIndexer(index, messages, enrichments)

	storeEnriched(t, messages, enrichments, "msg-1", "user-1", "Budget", "Review the budget.")
	storeEnriched(t, messages, enrichments, "msg-2", "user-1", "Lunch", "Lunch invitation.")
	index.hits = []chroma.SearchHit{
		{MessageID: "msg-2", Distance: 0.1},
		{MessageID: "msg-1", Distance: 0.4},
	}

	results, err := indexer.Search(context.Background(), "user-1", "food", 10)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "msg-2", results[0].Message.ID)
	assert.Equal(t, "Lunch invitation.", results[0].Summary)
	assert.Equal(t, 0.1, results[0].Distance)
	assert.Equal(t, "msg-1", results[1].Message.ID)
}

func TestSearchDropsForeignRows(t *testing.T) {
	index := newFakeIndex()
	messages := newFakeMessageRepo()
	enrichments := newFakeEnrichmentRepo()
	indexer := NewEmbeddingIndexer(index, messages, enrichments)

	storeEnriched(t, messages, enrichments, "msg-1", "user-1", "Budget", "Review the budget.")
	storeEnriched(t, messages, enrichments, "msg-2", "user-2", "Secret", "Someone else's mail.")
	// A stale index entry points at the other user's row.
	index.hits = []chroma.SearchHit{
		{MessageID: "msg-1", Distance: 0.2},
		{MessageID: "msg-2", Distance: 0.3},
	}

	results, err := indexer.Search(context.Background(), "user-1", "anything", 10)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "msg-1", results[0].Message.ID)
}

func TestSearchEmptyIndex(t *testing.T) {
	indexer := NewEmbeddingIndexer(newFakeIndex(), newFakeMessageRepo(), newFakeEnrichmentRepo())

	results, err := indexer.Search(context.Background(), "user-1", "anything", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBackfillIndexesPendingRows(t *testing.T) {
	index := newFakeIndex()
	messages := newFakeMessageRepo()
	enrichments := newFakeEnrichmentRepo()
	indexer := NewEmbeddingIndexer(index, messages, enrichments)

	for _, id := range []string{"msg-1", "msg-2", "msg-3"} {
		storeEnriched(t, messages, enrichments, id, "user-1", "Subject "+id, "Summary for "+id)
	}
	// One already has a vector and must be skipped.
	require.NoError(t, enrichments.UpdateEmbedding("msg-3", []float32{1, 2, 3}))

	indexed, err := indexer.Backfill(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 2, indexed)
	assert.Equal(t, 2, index.upserts)

	for _, id := range []string{"msg-1", "msg-2"} {
		stored, err := enrichments.GetByMessageID(id)
		require.NoError(t, err)
		assert.NotEmpty(t, stored.Embedding)
	}

	// A second pass finds nothing left to do.
	indexed, err = indexer.Backfill(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, indexed)
}

func TestPollerDrainsQueue(t *testing.T) {
	jobRepo := newFakeJobRepo()
	require.NoError(t, jobRepo.Enqueue("msg-1", "user-1"))
	require.NoError(t, jobRepo.Enqueue("msg-2", "user-1"))
	// Enqueueing the same message again is a no-op.
	require.NoError(t, jobRepo.Enqueue("msg-1", "user-1"))

	counts, err := jobRepo.CountByStatus()
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[maildomain.JobStatusPending])

	jobs, err := jobRepo.ClaimPending(5)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	// Claimed jobs are invisible to a second claimer.
	again, err := jobRepo.ClaimPending(5)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, jobRepo.MarkDone(jobs[0].ID))
	require.NoError(t, jobRepo.MarkFailed(jobs[1].ID, "boom"))

	counts, err = jobRepo.CountByStatus()
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[maildomain.JobStatusDone])
	// First failure goes back to pending for another attempt.
	assert.Equal(t, int64(1), counts[maildomain.JobStatusPending])
}
