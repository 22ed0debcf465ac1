package pipeline

import (
	"context"
	"time"

	"medassist-go/pkg/log"
	"medassist-go/pkg/tasks"
)

// InlinePublisher 在未启用 Kafka 时直接在后台 goroutine 中处理任务。
type InlinePublisher struct {
	processor *Processor
	timeout   time.Duration
}

func NewInlinePublisher(processor *Processor, timeout time.Duration) *InlinePublisher {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &InlinePublisher{processor: processor, timeout: timeout}
}

func (p *InlinePublisher) Publish(_ context.Context, task tasks.KnowledgeIngestTask) error {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.processor.Process(ctx, task); err != nil {
			log.Errorf("[InlinePublisher] 导入任务失败, TaskID: %s, Error: %v", task.TaskID, err)
		}
	}()
	return nil
}
