package service

import (
	"encoding/json"
	"time"

	"medassist-go/internal/connector"
	"medassist-go/internal/model"
)

// PlanStep 是计划中的一次 agent 调用。
type PlanStep struct {
	Agent    string
	Required bool
	Payload  interface{}
	// When 为 nil 时无条件执行，否则根据此前步骤的输出决定是否执行。
	When func(outputs map[string]json.RawMessage) bool
}

// Plan 是有序的执行步骤，合成步骤不在其中，总是最后执行。
type Plan struct {
	Steps []PlanStep
}

// Agents 返回计划涉及的 agent 名称。
func (p Plan) Agents() []string {
	names := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		names = append(names, s.Agent)
	}
	return names
}

type parserPayload struct {
	Text string `json:"text"`
}

type knowledgePayload struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// Planner 按确定性规则生成执行计划。
type Planner struct {
	now  func() time.Time
	topK int
}

// NewPlanner 创建 Planner，now 为 nil 时使用 time.Now。
func NewPlanner(now func() time.Time, topK int) *Planner {
	if now == nil {
		now = time.Now
	}
	if topK <= 0 {
		topK = 3
	}
	return &Planner{now: now, topK: topK}
}

// Plan 生成计划：
// 预约类查询只调用 booking（必需）；其余先调用 parser（可选），
// 当意图为 symptom_report/question 或查询本身是信息类时再调用 knowledge（可选）。
func (p *Planner) Plan(query, userID string) Plan {
	if IsBookingQuery(query) {
		req := ExtractBookingRequest(BookingRequest{Query: query, UserID: userID}, p.now())
		if req.Action == model.ActionBook && (req.Date == "" || req.Time == "") {
			req.Action = model.ActionCheckAvailability
		}
		return Plan{Steps: []PlanStep{{Agent: connector.AgentBooking, Required: true, Payload: req}}}
	}

	informational := IsInformational(query)
	return Plan{Steps: []PlanStep{
		{Agent: connector.AgentParser, Payload: parserPayload{Text: query}},
		{
			Agent:   connector.AgentKnowledge,
			Payload: knowledgePayload{Query: query, TopK: p.topK},
			When: func(outputs map[string]json.RawMessage) bool {
				return needsKnowledge(outputs[connector.AgentParser], informational)
			},
		},
	}}
}

// needsKnowledge 在 parser 失败或输出无法解析时只依据信息类判断。
func needsKnowledge(parserOut json.RawMessage, informational bool) bool {
	if informational {
		return true
	}
	if len(parserOut) == 0 {
		return false
	}
	var parsed model.ParsedIntent
	if err := json.Unmarshal(parserOut, &parsed); err != nil {
		return false
	}
	switch parsed.PrimaryIntent {
	case model.IntentSymptomReport, model.IntentQuestion:
		return true
	}
	return false
}
