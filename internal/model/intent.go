package model

// PrimaryIntent 是症状/意图解析的主分类。
type PrimaryIntent string

const (
	IntentSymptomReport  PrimaryIntent = "symptom_report"
	IntentQuestion       PrimaryIntent = "question"
	IntentBookingRequest PrimaryIntent = "booking_request"
	IntentOther          PrimaryIntent = "other"
)

// Valid 判断是否为已知意图。
func (p PrimaryIntent) Valid() bool {
	switch p {
	case IntentSymptomReport, IntentQuestion, IntentBookingRequest, IntentOther:
		return true
	}
	return false
}

// Severity 是可选的严重程度。
type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// Valid 判断是否为已知严重程度。
func (s Severity) Valid() bool {
	switch s {
	case SeverityMild, SeverityModerate, SeveritySevere:
		return true
	}
	return false
}

// ParsedIntent 是 parser agent 的输出。Symptoms 为去重后的小写列表。
type ParsedIntent struct {
	PrimaryIntent PrimaryIntent `json:"primary_intent"`
	Symptoms      []string      `json:"symptoms"`
	Severity      *Severity     `json:"severity,omitempty"`
	Duration      *string       `json:"duration,omitempty"`
}
