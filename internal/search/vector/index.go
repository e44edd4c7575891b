// Package vector maintains a Milvus collection of agent-profile embeddings
// for semantic discovery.
package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/aip-dev/registry/internal/embedding"
	"github.com/aip-dev/registry/internal/storage/models"
	"github.com/aip-dev/registry/pkg/logger"
)

type Index struct {
	client         client.Client
	embedder       *embedding.Client
	collectionName string
	vectorDim      int
}

func NewIndex(endpoint, collectionName string, vectorDim int, embedder *embedding.Client) (*Index, error) {
	c, err := client.NewGrpcClient(context.Background(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Vector index initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Index{
		client:         c,
		embedder:       embedder,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (x *Index) Close() error {
	return x.client.Close()
}

func (x *Index) EnsureCollection(ctx context.Context) error {
	has, err := x.client.HasCollection(ctx, x.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: x.collectionName,
		Description:    "Agent profile embeddings",
		Fields: []*entity.Field{
			{
				Name:       "agent_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", x.vectorDim),
				},
			},
			{
				Name:     "name",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "256",
				},
			},
			{
				Name:     "skills",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "1024",
				},
			},
		},
	}

	if err := x.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.L2, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := x.client.CreateIndex(ctx, x.collectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := x.client.LoadCollection(ctx, x.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Vector collection created and loaded", zap.String("collection", x.collectionName))
	return nil
}

// profileText flattens the searchable parts of a profile into one string
// for embedding.
func profileText(profile *models.AgentProfile) string {
	skills := make([]string, len(profile.Capabilities))
	for i, cap := range profile.Capabilities {
		skills[i] = cap.Skill
	}

	var b strings.Builder
	b.WriteString(profile.Name)
	if profile.Description != "" {
		b.WriteString(". ")
		b.WriteString(profile.Description)
	}
	if len(skills) > 0 {
		b.WriteString(". Skills: ")
		b.WriteString(strings.Join(skills, ", "))
	}
	return b.String()
}

func (x *Index) Upsert(ctx context.Context, profile *models.AgentProfile) error {
	vec, err := x.embedder.Embed(ctx, profileText(profile))
	if err != nil {
		return fmt.Errorf("failed to embed profile: %w", err)
	}

	skills := make([]string, len(profile.Capabilities))
	for i, cap := range profile.Capabilities {
		skills[i] = cap.Skill
	}

	// Milvus upsert = delete then insert for varchar primary keys.
	if err := x.Delete(ctx, profile.ID); err != nil {
		return err
	}

	_, err = x.client.Insert(
		ctx,
		x.collectionName,
		"",
		entity.NewColumnVarChar("agent_id", []string{profile.ID}),
		entity.NewColumnFloatVector("embedding", x.vectorDim, [][]float32{vec}),
		entity.NewColumnVarChar("name", []string{profile.Name}),
		entity.NewColumnVarChar("skills", []string{strings.Join(skills, ",")}),
	)
	if err != nil {
		return fmt.Errorf("failed to insert profile vector: %w", err)
	}

	if err := x.client.Flush(ctx, x.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Debug("Agent profile indexed", zap.String("agent_id", profile.ID))
	return nil
}

func (x *Index) Delete(ctx context.Context, agentID string) error {
	expr := fmt.Sprintf(`agent_id == "%s"`, agentID)
	if err := x.client.Delete(ctx, x.collectionName, "", expr); err != nil {
		return fmt.Errorf("failed to delete profile vector: %w", err)
	}
	return nil
}

// Search embeds the query and returns the ids of the topK closest agents.
func (x *Index) Search(ctx context.Context, query string, topK int) ([]string, error) {
	vec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := x.client.Search(
		ctx,
		x.collectionName,
		[]string{},
		"",
		[]string{"agent_id"},
		[]entity.Vector{entity.FloatVector(vec)},
		"embedding",
		entity.L2,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	var ids []string
	for _, sr := range searchResult {
		idCol := sr.Fields.GetColumn("agent_id")
		for i := 0; i < sr.ResultCount; i++ {
			id, err := idCol.Get(i)
			if err != nil {
				continue
			}
			ids = append(ids, id.(string))
		}
	}

	logger.Debug("Vector search completed", zap.Int("topK", topK), zap.Int("results", len(ids)))
	return ids, nil
}
