package service

import (
	"medassist-go/internal/apperr"
	"medassist-go/pkg/log"
)

// RequestState 是一次编排请求的生命周期状态。
type RequestState string

const (
	StateReceived     RequestState = "received"
	StatePlanned      RequestState = "planned"
	StateExecuting    RequestState = "executing"
	StateSynthesizing RequestState = "synthesizing"
	StateDone         RequestState = "done"
	StateFailed       RequestState = "failed"
)

// 合法的状态迁移，done 与 failed 为终态。
var requestTransitions = map[RequestState][]RequestState{
	StateReceived:     {StatePlanned, StateFailed},
	StatePlanned:      {StateExecuting, StateFailed},
	StateExecuting:    {StateSynthesizing, StateFailed},
	StateSynthesizing: {StateDone, StateFailed},
}

type lifecycle struct {
	id    string
	state RequestState
}

func newLifecycle(id string) *lifecycle {
	return &lifecycle{id: id, state: StateReceived}
}

// advance 迁移到下一个状态。非法迁移属于程序错误，返回 Internal。
func (l *lifecycle) advance(to RequestState) error {
	for _, next := range requestTransitions[l.state] {
		if next == to {
			log.Debugf("[Orchestrator] requestId: %s, %s -> %s", l.id, l.state, to)
			l.state = to
			return nil
		}
	}
	return apperr.New(apperr.KindInternal, apperr.CodeInternal, "illegal request transition %s -> %s", l.state, to)
}
