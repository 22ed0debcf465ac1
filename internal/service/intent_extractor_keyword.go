package service

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"medassist-go/internal/model"
)

type symptomTerm struct {
	name    string
	pattern *regexp.Regexp
}

func term(name string, variants ...string) symptomTerm {
	return symptomTerm{name: name, pattern: regexp.MustCompile(`\b(?:` + strings.Join(variants, "|") + `)\b`)}
}

var symptomLexicon = []symptomTerm{
	term("headache", "headaches?", "head aches?", "head hurts"),
	term("migraine", "migraines?"),
	term("fever", "fevers?", "feverish", "high temperature"),
	term("cough", "coughs?", "coughing"),
	term("sore throat", "sore throats?"),
	term("runny nose", "runny nose"),
	term("congestion", "congestion", "congested", "stuffy nose"),
	term("nausea", "nausea", "nauseous", "nauseated"),
	term("vomiting", "vomiting", "vomit", "throwing up"),
	term("diarrhea", "diarrh?o?ea"),
	term("abdominal pain", "abdominal pain", "stomach ?aches?", "stomach pain", "tummy ache"),
	term("chest pain", "chest pains?"),
	term("back pain", "back pain", "backaches?"),
	term("joint pain", "joint pains?"),
	term("muscle pain", "muscle pains?", "muscle aches?", "body aches?"),
	term("ear pain", "ear ?aches?", "ear pain"),
	term("shortness of breath", "shortness of breath", "short of breath", "breathless", "trouble breathing"),
	term("dizziness", "dizzy", "dizziness", "lightheaded"),
	term("fatigue", "fatigue", "fatigued", "tired", "tiredness", "exhausted"),
	term("chills", "chills"),
	term("rash", "rash", "rashes"),
	term("swelling", "swelling", "swollen"),
	term("numbness", "numbness", "numb"),
	term("insomnia", "insomnia", "can't sleep", "cannot sleep"),
}

var (
	durationPattern = regexp.MustCompile(`\b((?:\d+|a|an|one|two|three|four|five|six|seven|ten|a few|few|several|couple of|a couple of)\s+(?:hours?|days?|nights?|weeks?|months?|years?))\b`)
	severePattern   = regexp.MustCompile(`\b(?:severe|severely|terrible|unbearable|excruciating|intense|worst|really bad)\b`)
	moderatePattern = regexp.MustCompile(`\b(?:moderate|moderately|quite bad|pretty bad)\b`)
	mildPattern     = regexp.MustCompile(`\b(?:mild|mildly|slight|slightly|minor|a little|a bit of)\b`)
	questionStart   = regexp.MustCompile(`^(?:what|why|how|when|where|which|who|is|are|can|could|should|do|does|will|would)\b`)
	infoPattern     = regexp.MustCompile(`\b(?:what|why|how|explain|tell me about|information|causes?|treat(?:ment)?s?|symptoms of|prevent(?:ion)?)\b`)
)

// KeywordIntentExtractor 基于词表与正则的确定性抽取器，不依赖模型服务。
type KeywordIntentExtractor struct{}

func NewKeywordIntentExtractor() *KeywordIntentExtractor {
	return &KeywordIntentExtractor{}
}

func (KeywordIntentExtractor) Extract(_ context.Context, text string) (*model.ParsedIntent, error) {
	lower := strings.ToLower(text)
	out := &model.ParsedIntent{Symptoms: ExtractSymptoms(lower)}

	if m := durationPattern.FindStringSubmatch(lower); m != nil {
		d := m[1]
		out.Duration = &d
	}
	var sev model.Severity
	switch {
	case severePattern.MatchString(lower):
		sev = model.SeveritySevere
	case moderatePattern.MatchString(lower):
		sev = model.SeverityModerate
	case mildPattern.MatchString(lower):
		sev = model.SeverityMild
	}
	if sev != "" {
		out.Severity = &sev
	}

	switch {
	case IsBookingQuery(lower):
		out.PrimaryIntent = model.IntentBookingRequest
	case IsQuestion(lower):
		out.PrimaryIntent = model.IntentQuestion
	case len(out.Symptoms) > 0:
		out.PrimaryIntent = model.IntentSymptomReport
	default:
		out.PrimaryIntent = model.IntentOther
	}
	return out, nil
}

// ExtractSymptoms 返回文本中出现的症状，按首次出现位置排序。
func ExtractSymptoms(lower string) []string {
	type hit struct {
		pos  int
		name string
	}
	var hits []hit
	for _, t := range symptomLexicon {
		if loc := t.pattern.FindStringIndex(lower); loc != nil {
			hits = append(hits, hit{pos: loc[0], name: t.name})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.name)
	}
	return out
}

// IsQuestion 判断文本是否为疑问句。
func IsQuestion(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	return strings.HasSuffix(t, "?") || questionStart.MatchString(t)
}

// IsInformational 判断查询是否在寻求知识性信息。
func IsInformational(text string) bool {
	t := strings.ToLower(text)
	return IsQuestion(t) || infoPattern.MatchString(t)
}
