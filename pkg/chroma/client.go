package chroma

import (
	"context"
	"fmt"
	"log"
	"os"

	"mailsense-backend/pkg/config"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings/gemini"
)

// SearchHit is one scored match from the vector index.
type SearchHit struct {
	MessageID string
	Distance  float64
}

type ChromaClient struct {
	client     chroma.Client
	embedFunc  *gemini.GeminiEmbeddingFunction
	config     *config.Config
	collection chroma.Collection // Pre-created collection
}

func NewChromaClient(cfg *config.Config) (*ChromaClient, error) {
	if cfg.ChromaAPIKey == "" {
		return nil, fmt.Errorf("CHROMA_API_KEY is required")
	}

	// The embedding function reads the key from the environment
	if cfg.GeminiAPIKey != "" {
		os.Setenv("GEMINI_API_KEY", cfg.GeminiAPIKey)
	}

	embedFunc, err := gemini.NewGeminiEmbeddingFunction(
		gemini.WithEnvAPIKey(),
		gemini.WithDefaultModel("text-embedding-004"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini embedding function: %w", err)
	}

	// Chroma Cloud endpoint - https://api.trychroma.com:8000/api/v2
	var client chroma.Client
	if cfg.ChromaDatabase != "" && cfg.ChromaTenant != "" {
		client, err = chroma.NewHTTPClient(
			chroma.WithBaseURL(chroma.ChromaCloudEndpoint),
			chroma.WithCloudAPIKey(cfg.ChromaAPIKey),
			chroma.WithDatabaseAndTenant(cfg.ChromaDatabase, cfg.ChromaTenant),
		)
	} else if cfg.ChromaTenant != "" {
		client, err = chroma.NewHTTPClient(
			chroma.WithBaseURL(chroma.ChromaCloudEndpoint),
			chroma.WithCloudAPIKey(cfg.ChromaAPIKey),
			chroma.WithTenant(cfg.ChromaTenant),
		)
	} else {
		client, err = chroma.NewHTTPClient(
			chroma.WithBaseURL(chroma.ChromaCloudEndpoint),
			chroma.WithCloudAPIKey(cfg.ChromaAPIKey),
		)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create Chroma client: %w", err)
	}

	ctx := context.Background()
	collection, err := client.GetOrCreateCollection(
		ctx,
		"messages",
		chroma.WithEmbeddingFunctionCreate(embedFunc),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	log.Printf("[Chroma] Initialized client with collection: messages")

	return &ChromaClient{
		client:     client,
		embedFunc:  embedFunc,
		config:     cfg,
		collection: collection,
	}, nil
}

// Embed computes the embedding vector for a single text without touching the
// collection. Used to keep a copy of the vector on the enrichment row.
func (c *ChromaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	embs, err := c.embedFunc.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	if len(embs) == 0 {
		return nil, fmt.Errorf("embedding provider returned no vectors")
	}
	return embs[0].ContentAsFloat32(), nil
}

// UpsertMessageEmbedding upserts the message into the vector index keyed by
// message ID, so re-enrichment never duplicates entries, and returns the
// computed vector.
func (c *ChromaClient) UpsertMessageEmbedding(ctx context.Context, messageID, userID, subject, text string) ([]float32, error) {
	// Embedding models have token limits
	if len(text) > 10000 {
		text = text[:10000]
	}

	vector, err := c.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	metadata, err := chroma.NewDocumentMetadataFromMap(map[string]interface{}{
		"user_id":    userID,
		"message_id": messageID,
		"subject":    subject,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata: %w", err)
	}

	err = c.collection.Upsert(
		ctx,
		chroma.WithIDs(chroma.DocumentID(messageID)),
		chroma.WithMetadatas(metadata),
		chroma.WithTexts(text),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert message embedding: %w", err)
	}

	return vector, nil
}

// SemanticSearch queries the index for messages similar to query. The server
// side filter scopes by user, and results are filtered again on our side
// against the stored metadata before anything is returned; an index entry
// without a matching user_id never reaches the caller. The query overfetches
// so post-filtering can still fill the requested limit.
func (c *ChromaClient) SemanticSearch(ctx context.Context, userID, query string, limit int) ([]SearchHit, error) {
	if c.collection == nil {
		return nil, fmt.Errorf("collection is nil")
	}
	if limit <= 0 {
		limit = 10
	}

	where := chroma.EqString("user_id", userID)

	results, err := c.collection.Query(
		ctx,
		chroma.WithQueryTexts(query),
		chroma.WithNResults(limit*2),
		chroma.WithWhereQuery(where),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	if results == nil || results.CountGroups() == 0 {
		return []SearchHit{}, nil
	}

	idGroups := results.GetIDGroups()
	distanceGroups := results.GetDistancesGroups()
	metadataGroups := results.GetMetadatasGroups()
	if len(idGroups) == 0 || len(idGroups[0]) == 0 {
		return []SearchHit{}, nil
	}

	hits := make([]SearchHit, 0, limit)
	for i, id := range idGroups[0] {
		if len(metadataGroups) > 0 && i < len(metadataGroups[0]) && metadataGroups[0][i] != nil {
			owner, ok := metadataGroups[0][i].GetString("user_id")
			if !ok || owner != userID {
				log.Printf("[SemanticSearch] Dropping result %s owned by another user", string(id))
				continue
			}
		}

		hit := SearchHit{MessageID: string(id)}
		if len(distanceGroups) > 0 && i < len(distanceGroups[0]) {
			hit.Distance = float64(distanceGroups[0][i])
		}
		hits = append(hits, hit)
		if len(hits) >= limit {
			break
		}
	}

	return hits, nil
}

func (c *ChromaClient) DeleteMessageEmbedding(ctx context.Context, messageID string) error {
	err := c.collection.Delete(ctx, chroma.WithIDsDelete(chroma.DocumentID(messageID)))
	if err != nil {
		return fmt.Errorf("failed to delete message embedding: %w", err)
	}
	return nil
}
