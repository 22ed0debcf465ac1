package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"medassist-go/internal/apperr"
	"medassist-go/internal/model"
	"medassist-go/pkg/llm"
)

// scriptedLLM 按顺序返回预设回复，记录每次调用的消息。
type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   [][]llm.Message
	gens    []*llm.GenerationParams
}

func (s *scriptedLLM) Complete(_ context.Context, messages []llm.Message, gen *llm.GenerationParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.calls)
	s.calls = append(s.calls, append([]llm.Message(nil), messages...))
	s.gens = append(s.gens, gen)
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.replies) {
		return s.replies[i], nil
	}
	return "", errors.New("no scripted reply")
}

func TestKeywordParseSymptomReport(t *testing.T) {
	svc := NewParserService(NewKeywordIntentExtractor())
	got, err := svc.Parse(context.Background(), "I have been experiencing headaches and fever for 3 days")
	if err != nil {
		t.Fatal(err)
	}
	if got.PrimaryIntent != model.IntentSymptomReport {
		t.Errorf("intent = %s", got.PrimaryIntent)
	}
	if !reflect.DeepEqual(got.Symptoms, []string{"headache", "fever"}) {
		t.Errorf("symptoms = %v", got.Symptoms)
	}
	if got.Duration == nil || *got.Duration != "3 days" {
		t.Errorf("duration = %v", got.Duration)
	}
}

func TestKeywordParseIntents(t *testing.T) {
	svc := NewParserService(NewKeywordIntentExtractor())
	cases := []struct {
		text string
		want model.PrimaryIntent
	}{
		{"Can I book an appointment tomorrow?", model.IntentBookingRequest},
		{"What causes migraines?", model.IntentQuestion},
		{"I have a severe cough", model.IntentSymptomReport},
		{"Thanks, bye", model.IntentOther},
	}
	for _, c := range cases {
		got, err := svc.Parse(context.Background(), c.text)
		if err != nil {
			t.Fatalf("%q: %v", c.text, err)
		}
		if got.PrimaryIntent != c.want {
			t.Errorf("%q: intent = %s, want %s", c.text, got.PrimaryIntent, c.want)
		}
	}

	got, _ := svc.Parse(context.Background(), "I have a severe cough")
	if got.Severity == nil || *got.Severity != model.SeveritySevere {
		t.Errorf("severity = %v", got.Severity)
	}
}

func TestParseRejectsBlankText(t *testing.T) {
	svc := NewParserService(NewKeywordIntentExtractor())
	if _, err := svc.Parse(context.Background(), "  \n"); !errors.Is(err, apperr.ErrEmptyInput) {
		t.Fatalf("err = %v, want EmptyInput", err)
	}
}

func TestLLMExtractorAcceptsFencedJSON(t *testing.T) {
	fake := &scriptedLLM{replies: []string{"Here you go:\n```json\n{\"primary_intent\": \"Symptoms\", \"symptoms\": [\"Headache\", \"fever\", \"headache\"], \"severity\": \"HIGH\", \"duration\": \"2 days\"}\n```"}}
	svc := NewParserService(NewLLMIntentExtractor(fake, 1))

	got, err := svc.Parse(context.Background(), "my head hurts and I am hot")
	if err != nil {
		t.Fatal(err)
	}
	if got.PrimaryIntent != model.IntentSymptomReport {
		t.Errorf("intent = %s", got.PrimaryIntent)
	}
	if !reflect.DeepEqual(got.Symptoms, []string{"headache", "fever"}) {
		t.Errorf("symptoms = %v", got.Symptoms)
	}
	if got.Severity == nil || *got.Severity != model.SeveritySevere {
		t.Errorf("severity = %v", got.Severity)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("calls = %d", len(fake.calls))
	}
	if gen := fake.gens[0]; gen == nil || gen.Temperature == nil || *gen.Temperature != 0 {
		t.Errorf("generation params = %+v, want temperature 0", gen)
	}
	if fake.calls[0][0].Role != model.RoleSystem || fake.calls[0][1].Content != "my head hurts and I am hot" {
		t.Errorf("prompt = %+v", fake.calls[0])
	}
}

func TestLLMExtractorReasksOnce(t *testing.T) {
	fake := &scriptedLLM{replies: []string{
		`{"primary_intent": "diagnosis"}`,
		`{"primary_intent": "question", "symptoms": null}`,
	}}
	got, err := NewLLMIntentExtractor(fake, 1).Extract(context.Background(), "what is a fever?")
	if err != nil {
		t.Fatal(err)
	}
	if got.PrimaryIntent != model.IntentQuestion || len(got.Symptoms) != 0 {
		t.Fatalf("got = %+v", got)
	}
	if len(fake.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(fake.calls))
	}
	second := fake.calls[1]
	if len(second) != 4 || second[2].Role != model.RoleAssistant || second[2].Content != `{"primary_intent": "diagnosis"}` {
		t.Errorf("re-ask messages = %+v", second)
	}
}

func TestLLMExtractorFallsBackToOther(t *testing.T) {
	fake := &scriptedLLM{replies: []string{"not json", `{"primary_intent": "symptom_report", "symptoms": "headache"}`}}
	got, err := NewLLMIntentExtractor(fake, 1).Extract(context.Background(), "hello")
	if err != nil {
		t.Fatalf("malformed output must not be fatal: %v", err)
	}
	if got.PrimaryIntent != model.IntentOther || got.Symptoms == nil || len(got.Symptoms) != 0 {
		t.Fatalf("got = %+v", got)
	}
	if len(fake.calls) != 2 {
		t.Errorf("calls = %d", len(fake.calls))
	}
}

func TestLLMExtractorPropagatesTransportError(t *testing.T) {
	upstream := apperr.Upstream(apperr.CodeUpstreamUnavailable, errors.New("503"), "chat completion failed")
	fake := &scriptedLLM{errs: []error{upstream}}
	_, err := NewParserService(NewLLMIntentExtractor(fake, 1)).Parse(context.Background(), "fever")
	if !errors.Is(err, apperr.ErrUpstreamUnavailable) || !apperr.Retryable(err) {
		t.Fatalf("err = %v, want retryable UpstreamUnavailable", err)
	}
}

func TestDecodeIntentValidation(t *testing.T) {
	cases := []struct {
		name    string
		reply   string
		wantErr bool
	}{
		{"missing intent", `{"symptoms": []}`, true},
		{"intent not string", `{"primary_intent": 3}`, true},
		{"duration wrong type", `{"primary_intent": "other", "duration": 3}`, true},
		{"unknown severity dropped", `{"primary_intent": "other", "severity": "extreme"}`, false},
		{"severity wrong type dropped", `{"primary_intent": "other", "severity": 5}`, false},
		{"booking synonym", `{"primary_intent": "appointment_request"}`, false},
	}
	for _, c := range cases {
		got, err := DecodeIntent(c.reply)
		if c.wantErr {
			if !errors.Is(err, apperr.ErrMalformedModelOutput) {
				t.Errorf("%s: err = %v, want MalformedModelOutput", c.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error %v", c.name, err)
			continue
		}
		if got.Severity != nil {
			t.Errorf("%s: severity = %v, want nil", c.name, *got.Severity)
		}
	}
	got, _ := DecodeIntent(`{"primary_intent": "appointment_request"}`)
	if got.PrimaryIntent != model.IntentBookingRequest {
		t.Errorf("synonym mapped to %s", got.PrimaryIntent)
	}
}
