// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"context"
	"math"

	"medassist-go/internal/apperr"
	"medassist-go/internal/config"
	"medassist-go/pkg/log"

	"github.com/sashabaranov/go-openai"
)

// Client defines the interface for an LLM text-completion client.
type Client interface {
	// Complete 以 role-based 消息与可选生成参数调用聊天接口，返回完整回复。
	Complete(ctx context.Context, messages []Message, gen *GenerationParams) (string, error)
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为，nil 字段使用配置中的默认值。
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

type openAIClient struct {
	cfg    config.LLMConfig
	client *openai.Client
}

// NewClient creates an OpenAI-compatible chat completion client.
func NewClient(cfg config.LLMConfig) Client {
	oaCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaCfg.BaseURL = cfg.BaseURL
	}
	return &openAIClient{
		cfg:    cfg,
		client: openai.NewClientWithConfig(oaCfg),
	}
}

func (c *openAIClient) Complete(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	req := openai.ChatCompletionRequest{
		Model:    c.cfg.Model,
		Messages: oaMsgs,
	}
	c.applyGeneration(&req, gen)

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", apperr.Wrap(ctx.Err(), apperr.KindTimeout, apperr.CodeTimeout, "chat completion cancelled")
		}
		log.Errorf("[LLMClient] 调用 chat completion 失败, model: %s, error: %v", c.cfg.Model, err)
		return "", apperr.Upstream(apperr.CodeUpstreamUnavailable, err, "chat completion failed")
	}
	if len(resp.Choices) == 0 {
		return "", apperr.New(apperr.KindUpstream, apperr.CodeUpstreamUnavailable, "chat completion returned no choices")
	}
	log.Infow("[LLMClient] chat completion 完成",
		"model", c.cfg.Model,
		"promptTokens", resp.Usage.PromptTokens,
		"completionTokens", resp.Usage.CompletionTokens,
	)
	return resp.Choices[0].Message.Content, nil
}

// applyGeneration 传参优先，其次使用配置中的非零值。
func (c *openAIClient) applyGeneration(req *openai.ChatCompletionRequest, gen *GenerationParams) {
	temperature := c.cfg.Generation.Temperature
	topP := c.cfg.Generation.TopP
	maxTokens := c.cfg.Generation.MaxTokens
	explicitTemp := false
	if gen != nil {
		if gen.Temperature != nil {
			temperature = *gen.Temperature
			explicitTemp = true
		}
		if gen.TopP != nil {
			topP = *gen.TopP
		}
		if gen.MaxTokens != nil {
			maxTokens = *gen.MaxTokens
		}
	}
	req.Temperature = float32(temperature)
	if explicitTemp && temperature == 0 {
		// go-openai 会省略零值字段，用最小正数表达确定性输出
		req.Temperature = math.SmallestNonzeroFloat32
	}
	req.TopP = float32(topP)
	req.MaxTokens = maxTokens
}

// Deterministic 返回 temperature=0 的生成参数，用于需要稳定输出的结构化解析。
func Deterministic() *GenerationParams {
	t := 0.0
	return &GenerationParams{Temperature: &t}
}
