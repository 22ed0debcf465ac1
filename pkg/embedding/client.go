// Package embedding provides clients that turn text into dense vectors.
package embedding

import (
	"context"
	"strings"

	"medassist-go/internal/apperr"
	"medassist-go/internal/config"
	"medassist-go/pkg/log"

	"github.com/sashabaranov/go-openai"
)

// Client defines the interface for an embedding client.
type Client interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// NewClient creates an embedding client based on the provider in the config.
func NewClient(cfg config.EmbeddingConfig) Client {
	if cfg.Provider == "hash" {
		return NewHashClient(cfg.Dimensions)
	}
	return NewOpenAIClient(cfg)
}

type openAIClient struct {
	cfg    config.EmbeddingConfig
	client *openai.Client
}

// NewOpenAIClient calls an OpenAI-compatible /embeddings endpoint.
func NewOpenAIClient(cfg config.EmbeddingConfig) Client {
	oaCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaCfg.BaseURL = cfg.BaseURL
	}
	return &openAIClient{
		cfg:    cfg,
		client: openai.NewClientWithConfig(oaCfg),
	}
}

// CreateEmbedding returns the vector for text. Transport, auth and non-2xx failures are
// reported as UpstreamUnavailable so the caller can decide whether to retry.
func (c *openAIClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.ErrEmptyInput
	}
	log.Infof("[EmbeddingClient] 开始调用 Embedding API, model: %s, input_len: %d", c.cfg.Model, len(text))

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(c.cfg.Model),
		Dimensions: c.cfg.Dimensions,
	})
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
		return nil, apperr.Upstream(apperr.CodeUpstreamUnavailable, err, "embedding api call failed")
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		log.Warnf("[EmbeddingClient] Embedding API 返回了空的向量数据")
		return nil, apperr.New(apperr.KindUpstream, apperr.CodeUpstreamUnavailable, "received empty embedding from api")
	}

	log.Infof("[EmbeddingClient] 成功从 Embedding API 获取向量, 维度: %d", len(resp.Data[0].Embedding))
	return resp.Data[0].Embedding, nil
}

// CreateEmbeddings embeds texts one by one through c, so a cached client is hit per text.
func CreateEmbeddings(ctx context.Context, c Client, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.CreateEmbedding(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
