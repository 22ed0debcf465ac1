package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"medassist-go/internal/apperr"
	"medassist-go/internal/connector"
	"medassist-go/internal/model"
	"medassist-go/pkg/llm"
	"medassist-go/pkg/log"

	"github.com/google/uuid"
)

const synthesisSystemPrompt = `You are a caring healthcare assistant. Answer the patient using the agent results provided.
Be clear, warm and empathetic. Do not diagnose conditions or prescribe treatment; share general
information and recommend consulting a healthcare professional when symptoms are severe, persistent
or worrying. If an appointment was booked, cancelled or listed, confirm the details exactly as given.`

// OrchestrateRequest 是编排接口的输入。
type OrchestrateRequest struct {
	Query          string       `json:"query"`
	History        []model.Turn `json:"history,omitempty"`
	UserID         string       `json:"user_id,omitempty"`
	ConversationID string       `json:"conversation_id,omitempty"`
}

// OrchestrateResponse 是编排接口的输出。ErrorCode 仅用于观测，不是用户可见的文案。
type OrchestrateResponse struct {
	Response       string   `json:"response"`
	AgentCalls     []string `json:"agent_calls"`
	ErrorCode      string   `json:"error_code,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
}

// OrchestratorService 驱动一次请求的完整生命周期。
type OrchestratorService interface {
	Handle(ctx context.Context, req OrchestrateRequest) (*OrchestrateResponse, error)
}

// OrchestratorOptions 配置超时与历史长度。
type OrchestratorOptions struct {
	RequestTimeout  time.Duration
	StepTimeout     time.Duration
	MaxHistoryTurns int
	Generation      *llm.GenerationParams
}

type orchestratorService struct {
	planner       *Planner
	connector     connector.Connector
	llmClient     llm.Client
	conversations ConversationService
	opts          OrchestratorOptions
}

// NewOrchestratorService 创建编排服务，conversations 可为 nil。
func NewOrchestratorService(planner *Planner, conn connector.Connector, llmClient llm.Client, conversations ConversationService, opts OrchestratorOptions) OrchestratorService {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 30 * time.Second
	}
	if opts.MaxHistoryTurns <= 0 {
		opts.MaxHistoryTurns = 10
	}
	return &orchestratorService{
		planner:       planner,
		connector:     conn,
		llmClient:     llmClient,
		conversations: conversations,
		opts:          opts,
	}
}

// agentOutput 是一次成功的 agent 调用结果。
type agentOutput struct {
	Agent string
	Data  json.RawMessage
}

func (s *orchestratorService) Handle(ctx context.Context, req OrchestrateRequest) (*OrchestrateResponse, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, apperr.Wrap(apperr.ErrEmptyInput, apperr.KindValidation, apperr.CodeEmptyInput, "query is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	lc := newLifecycle(uuid.NewString())
	history := s.loadHistory(ctx, req)

	plan := s.planner.Plan(req.Query, req.UserID)
	if err := lc.advance(StatePlanned); err != nil {
		return nil, err
	}
	log.Infow("[Orchestrator] 计划已生成", "requestId", lc.id, "agents", plan.Agents())

	if err := lc.advance(StateExecuting); err != nil {
		return nil, err
	}
	resp := &OrchestrateResponse{AgentCalls: []string{}, ConversationID: req.ConversationID}
	outputs := make([]agentOutput, 0, len(plan.Steps))
	byAgent := make(map[string]json.RawMessage, len(plan.Steps))
	var requiredErr error

	for _, step := range plan.Steps {
		if step.When != nil && !step.When(byAgent) {
			log.Infof("[Orchestrator] 跳过步骤 %s, requestId: %s", step.Agent, lc.id)
			continue
		}
		resp.AgentCalls = append(resp.AgentCalls, step.Agent)
		raw, err := s.connector.Invoke(ctx, step.Agent, step.Payload, s.opts.StepTimeout)
		if err != nil {
			if requestExpired(ctx) {
				_ = lc.advance(StateFailed)
				return nil, apperr.Wrap(err, apperr.KindTimeout, apperr.CodeTimeout, "request deadline exceeded")
			}
			code := string(apperr.CodeOf(err))
			if resp.ErrorCode == "" {
				resp.ErrorCode = code
			}
			if step.Required {
				log.Errorw("[Orchestrator] 必需步骤失败, 终止计划", "requestId", lc.id, "agent", step.Agent, "code", code, "error", err)
				requiredErr = err
				break
			}
			log.Warnw("[Orchestrator] 可选步骤失败, 继续执行", "requestId", lc.id, "agent", step.Agent, "code", code, "error", err)
			continue
		}
		outputs = append(outputs, agentOutput{Agent: step.Agent, Data: raw})
		byAgent[step.Agent] = raw
	}

	if requiredErr != nil {
		if err := lc.advance(StateFailed); err != nil {
			return nil, err
		}
		resp.Response = s.apologize(ctx, req.Query, history, outputs, requiredErr)
		s.saveExchange(req, resp.Response)
		return resp, nil
	}

	if err := lc.advance(StateSynthesizing); err != nil {
		return nil, err
	}
	reply, err := s.synthesize(ctx, req.Query, history, outputs)
	if err != nil {
		if requestExpired(ctx) {
			_ = lc.advance(StateFailed)
			return nil, apperr.Wrap(err, apperr.KindTimeout, apperr.CodeTimeout, "request deadline exceeded during synthesis")
		}
		log.Warnf("[Orchestrator] 合成失败, 使用模板回复, requestId: %s, error: %v", lc.id, err)
		if resp.ErrorCode == "" {
			resp.ErrorCode = string(apperr.CodeOf(err))
		}
		reply = templateReply(outputs)
	}
	resp.Response = reply
	if err := lc.advance(StateDone); err != nil {
		return nil, err
	}
	s.saveExchange(req, reply)
	log.Infow("[Orchestrator] 请求完成", "requestId", lc.id, "agentCalls", resp.AgentCalls, "errorCode", resp.ErrorCode)
	return resp, nil
}

func requestExpired(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// loadHistory 优先使用请求携带的历史，否则按 conversation_id 从会话存储读取。
func (s *orchestratorService) loadHistory(ctx context.Context, req OrchestrateRequest) []model.Turn {
	history := req.History
	if len(history) == 0 && req.ConversationID != "" && s.conversations != nil {
		stored, err := s.conversations.GetConversationHistory(ctx, req.ConversationID)
		if err != nil {
			log.Warnf("[Orchestrator] 读取会话历史失败, conversationId: %s, error: %v", req.ConversationID, err)
		} else {
			history = stored
		}
	}
	return model.BoundHistory(history, s.opts.MaxHistoryTurns)
}

func (s *orchestratorService) saveExchange(req OrchestrateRequest, answer string) {
	if req.ConversationID == "" || s.conversations == nil {
		return
	}
	// 使用独立的 context：请求结束后仍需保存已生成的回复
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.conversations.AddExchange(ctx, req.ConversationID, req.Query, answer); err != nil {
		log.Errorf("[Orchestrator] 保存会话历史失败: %v", err)
	}
}

func (s *orchestratorService) composeMessages(system string, history []model.Turn, outputs []agentOutput, userInput string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+3)
	msgs = append(msgs, llm.Message{Role: model.RoleSystem, Content: system})
	for _, t := range history {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Content})
	}
	if len(outputs) > 0 {
		msgs = append(msgs, llm.Message{Role: model.RoleSystem, Content: "Agent results:\n" + renderOutputs(outputs)})
	}
	msgs = append(msgs, llm.Message{Role: model.RoleUser, Content: userInput})
	return msgs
}

func (s *orchestratorService) synthesize(ctx context.Context, query string, history []model.Turn, outputs []agentOutput) (string, error) {
	reply, err := s.llmClient.Complete(ctx, s.composeMessages(synthesisSystemPrompt, history, outputs, query), s.opts.Generation)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", apperr.New(apperr.KindUpstream, apperr.CodeUpstreamUnavailable, "empty synthesis reply")
	}
	return reply, nil
}

// apologize 在必需步骤失败时生成致歉回复，模型调用失败时退回到模板。
func (s *orchestratorService) apologize(ctx context.Context, query string, history []model.Turn, outputs []agentOutput, cause error) string {
	reason := userSafeReason(apperr.CodeOf(cause))
	system := synthesisSystemPrompt + "\n\nThe request could not be completed because " + reason +
		". Apologize briefly, explain this in plain words and suggest a next step. Do not mention internal systems or error codes."
	if !requestExpired(ctx) {
		if reply, err := s.llmClient.Complete(ctx, s.composeMessages(system, history, outputs, query), s.opts.Generation); err == nil && strings.TrimSpace(reply) != "" {
			return strings.TrimSpace(reply)
		}
	}
	return fmt.Sprintf("I'm sorry, I couldn't complete your request because %s. Please try again in a moment, or contact the clinic directly if you need help.", reason)
}

// userSafeReason 把错误码翻译为可以展示给用户的描述。
func userSafeReason(code apperr.Code) string {
	switch code {
	case apperr.CodeSlotConflict:
		return "the requested time slot is no longer available"
	case apperr.CodeInvalidTransition:
		return "that appointment can no longer be changed"
	case apperr.CodeNotFound:
		return "we couldn't find that appointment"
	case apperr.CodeValidation, apperr.CodeEmptyInput:
		return "some details in the request were missing or invalid"
	case apperr.CodeTimeout:
		return "the service took too long to respond"
	default:
		return "one of our services is temporarily unavailable"
	}
}

func renderOutputs(outputs []agentOutput) string {
	var b strings.Builder
	for _, o := range outputs {
		fmt.Fprintf(&b, "[%s] %s\n", o.Agent, string(o.Data))
	}
	return b.String()
}

const templateDisclaimer = "This is general information, not a diagnosis. Please consult a healthcare professional for medical advice."

// templateReply 在无法调用模型时由 agent 输出拼出确定性的回复。
func templateReply(outputs []agentOutput) string {
	var parts []string
	for _, o := range outputs {
		switch o.Agent {
		case connector.AgentParser:
			var parsed model.ParsedIntent
			if json.Unmarshal(o.Data, &parsed) == nil && len(parsed.Symptoms) > 0 {
				parts = append(parts, fmt.Sprintf("I understand you're dealing with %s. I'm sorry you're not feeling well.", strings.Join(parsed.Symptoms, " and ")))
			}
		case connector.AgentKnowledge:
			var out struct {
				Results []model.RetrievalResultDTO `json:"results"`
			}
			if json.Unmarshal(o.Data, &out) == nil && len(out.Results) > 0 {
				lines := []string{"Here is some general information that may help:"}
				for _, r := range out.Results {
					lines = append(lines, fmt.Sprintf("- %s: %s", r.Title, firstSentence(r.Content)))
				}
				parts = append(parts, strings.Join(lines, "\n"))
			}
		case connector.AgentBooking:
			if text := bookingSummary(o.Data); text != "" {
				parts = append(parts, text)
			}
		}
	}
	if len(parts) == 0 {
		return "I'm sorry, I wasn't able to put together a full answer right now. Please try again shortly, or contact a healthcare professional if you need help."
	}
	return strings.Join(parts, "\n\n") + "\n\n" + templateDisclaimer
}

func bookingSummary(data json.RawMessage) string {
	var out struct {
		Message        string              `json:"message"`
		Date           string              `json:"date"`
		Doctor         string              `json:"doctor"`
		AvailableSlots []string            `json:"available_slots"`
		Appointments   []model.Appointment `json:"appointments"`
		Count          *int                `json:"count"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return ""
	}
	switch {
	case out.AvailableSlots != nil:
		if len(out.AvailableSlots) == 0 {
			return fmt.Sprintf("There are no open slots with %s on %s.", out.Doctor, out.Date)
		}
		return fmt.Sprintf("Available times with %s on %s: %s.", out.Doctor, out.Date, strings.Join(out.AvailableSlots, ", "))
	case out.Count != nil:
		if *out.Count == 0 {
			return "You have no appointments on record."
		}
		lines := []string{fmt.Sprintf("You have %d appointment(s):", *out.Count)}
		for _, a := range out.Appointments {
			lines = append(lines, fmt.Sprintf("- %s at %s with %s (%s)", a.Date, a.Time, a.Doctor, a.Status))
		}
		return strings.Join(lines, "\n")
	case out.Message != "":
		return out.Message
	}
	return ""
}

func firstSentence(s string) string {
	if i := strings.Index(s, ". "); i >= 0 {
		return s[:i+1]
	}
	return s
}
