// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"strings"

	"medassist-go/internal/apperr"
	"medassist-go/internal/model"
	"medassist-go/pkg/log"
)

// IntentExtractor 从自由文本中抽取意图与症状。
type IntentExtractor interface {
	Extract(ctx context.Context, text string) (*model.ParsedIntent, error)
}

// ParserService 定义了症状/意图解析 agent 的操作。
type ParserService interface {
	Parse(ctx context.Context, text string) (*model.ParsedIntent, error)
}

type parserService struct {
	extractor IntentExtractor
}

// NewParserService 创建一个新的 ParserService 实例。
func NewParserService(extractor IntentExtractor) ParserService {
	return &parserService{extractor: extractor}
}

// Parse 校验输入并调用抽取器，结果统一做一次规范化。
func (s *parserService) Parse(ctx context.Context, text string) (*model.ParsedIntent, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Wrap(apperr.ErrEmptyInput, apperr.KindValidation, apperr.CodeEmptyInput, "text is required")
	}
	parsed, err := s.extractor.Extract(ctx, text)
	if err != nil {
		log.Errorf("[ParserService] 意图解析失败, code: %s, error: %v", apperr.CodeOf(err), err)
		return nil, err
	}
	normalizeIntent(parsed)
	log.Infof("[ParserService] 解析完成, intent: %s, symptoms: %v", parsed.PrimaryIntent, parsed.Symptoms)
	return parsed, nil
}

// normalizeIntent 保证症状为去重的小写列表，且 symptom_report 至少有一个症状。
func normalizeIntent(p *model.ParsedIntent) {
	p.Symptoms = normalizeSymptoms(p.Symptoms)
	if !p.PrimaryIntent.Valid() {
		p.PrimaryIntent = model.IntentOther
	}
	if p.PrimaryIntent == model.IntentSymptomReport && len(p.Symptoms) == 0 {
		p.PrimaryIntent = model.IntentOther
	}
	if p.Severity != nil && !p.Severity.Valid() {
		p.Severity = nil
	}
	if p.Duration != nil && strings.TrimSpace(*p.Duration) == "" {
		p.Duration = nil
	}
}

func normalizeSymptoms(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
