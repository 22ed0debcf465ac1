package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"medassist-go/internal/apperr"
	"medassist-go/internal/model"
	"medassist-go/pkg/llm"
	"medassist-go/pkg/log"
)

const parserSystemPrompt = `You are a medical intake assistant. Extract structured information from the patient's message.
Respond with a single JSON object and nothing else, using exactly these fields:
{"primary_intent": "symptom_report" | "question" | "booking_request" | "other",
 "symptoms": [list of lowercase symptom names, empty if none],
 "severity": "mild" | "moderate" | "severe" | null,
 "duration": short free text such as "3 days" | null}
Use singular symptom names (for example "headache", not "headaches"). Do not give medical advice.`

var intentSynonyms = map[string]model.PrimaryIntent{
	"symptom_report":      model.IntentSymptomReport,
	"symptom":             model.IntentSymptomReport,
	"symptoms":            model.IntentSymptomReport,
	"question":            model.IntentQuestion,
	"information_request": model.IntentQuestion,
	"booking_request":     model.IntentBookingRequest,
	"appointment_request": model.IntentBookingRequest,
	"appointment":         model.IntentBookingRequest,
	"booking":             model.IntentBookingRequest,
	"other":               model.IntentOther,
	"unknown":             model.IntentOther,
	"none":                model.IntentOther,
}

var severitySynonyms = map[string]model.Severity{
	"mild":     model.SeverityMild,
	"low":      model.SeverityMild,
	"minor":    model.SeverityMild,
	"moderate": model.SeverityModerate,
	"medium":   model.SeverityModerate,
	"severe":   model.SeveritySevere,
	"high":     model.SeveritySevere,
	"critical": model.SeveritySevere,
}

// LLMIntentExtractor 通过文本补全模型抽取意图，输出经 schema 校验，
// 不合法时最多重问 maxReasks 次，仍失败则降级为 {other, []}。
type LLMIntentExtractor struct {
	client    llm.Client
	maxReasks int
}

// NewLLMIntentExtractor 创建抽取器，maxReasks < 0 视为 0。
func NewLLMIntentExtractor(client llm.Client, maxReasks int) *LLMIntentExtractor {
	if maxReasks < 0 {
		maxReasks = 0
	}
	return &LLMIntentExtractor{client: client, maxReasks: maxReasks}
}

func (e *LLMIntentExtractor) Extract(ctx context.Context, text string) (*model.ParsedIntent, error) {
	messages := []llm.Message{
		{Role: model.RoleSystem, Content: parserSystemPrompt},
		{Role: model.RoleUser, Content: text},
	}

	var lastErr error
	for attempt := 0; attempt <= e.maxReasks; attempt++ {
		reply, err := e.client.Complete(ctx, messages, llm.Deterministic())
		if err != nil {
			return nil, err
		}
		parsed, err := DecodeIntent(reply)
		if err == nil {
			return parsed, nil
		}
		lastErr = err
		log.Warnf("[LLMIntentExtractor] 模型输出不合法 (attempt %d): %v", attempt+1, err)
		messages = append(messages,
			llm.Message{Role: model.RoleAssistant, Content: reply},
			llm.Message{Role: model.RoleUser, Content: fmt.Sprintf(
				"Your previous reply was invalid (%s). Reply again with only the JSON object in the required format.", apperr.MessageOf(err))},
		)
	}

	log.Errorw("[LLMIntentExtractor] 重问后仍无法解析，降级为 other",
		"code", apperr.CodeMalformedModelOutput, "error", lastErr)
	return &model.ParsedIntent{PrimaryIntent: model.IntentOther, Symptoms: []string{}}, nil
}

// DecodeIntent 从模型回复中提取 JSON（支持 ```json 代码块），并按 schema 校验与纠正。
func DecodeIntent(reply string) (*model.ParsedIntent, error) {
	body := extractJSONObject(reply)
	if body == "" {
		return nil, malformed("no JSON object found")
	}

	var raw struct {
		PrimaryIntent json.RawMessage `json:"primary_intent"`
		Symptoms      json.RawMessage `json:"symptoms"`
		Severity      json.RawMessage `json:"severity"`
		Duration      json.RawMessage `json:"duration"`
	}
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&raw); err != nil {
		return nil, malformed("invalid JSON: %v", err)
	}

	var intentStr string
	if err := json.Unmarshal(raw.PrimaryIntent, &intentStr); err != nil || intentStr == "" {
		return nil, malformed("primary_intent must be a non-empty string")
	}
	intent, ok := intentSynonyms[strings.ToLower(strings.TrimSpace(intentStr))]
	if !ok {
		return nil, malformed("unknown primary_intent %q", intentStr)
	}

	out := &model.ParsedIntent{PrimaryIntent: intent, Symptoms: []string{}}
	if !isNull(raw.Symptoms) {
		if err := json.Unmarshal(raw.Symptoms, &out.Symptoms); err != nil {
			return nil, malformed("symptoms must be an array of strings")
		}
	}

	if !isNull(raw.Severity) {
		var sev string
		if err := json.Unmarshal(raw.Severity, &sev); err == nil {
			if s, ok := severitySynonyms[strings.ToLower(strings.TrimSpace(sev))]; ok {
				out.Severity = &s
			}
		}
	}

	if !isNull(raw.Duration) {
		var dur string
		if err := json.Unmarshal(raw.Duration, &dur); err != nil {
			return nil, malformed("duration must be a string")
		}
		if dur = strings.TrimSpace(dur); dur != "" {
			out.Duration = &dur
		}
	}
	return out, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func malformed(format string, args ...interface{}) error {
	return apperr.Wrap(apperr.ErrMalformedModelOutput, apperr.KindMalformedOutput, apperr.CodeMalformedModelOutput, format, args...)
}

// extractJSONObject 去掉 markdown 代码块，返回第一个 '{' 到最后一个 '}' 之间的内容。
func extractJSONObject(reply string) string {
	s := strings.TrimSpace(reply)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		s = strings.TrimSpace(rest)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
