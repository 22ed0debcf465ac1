// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"medassist-go/internal/config"
	"medassist-go/pkg/log"
	"medassist-go/pkg/tasks"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// maxAttempts 是同一任务的最大处理次数，达到后提交 offset 放弃重试。
const maxAttempts = 3

// TaskProcessor 处理一个知识导入任务，使消费者与具体流水线解耦。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.KnowledgeIngestTask) error
}

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:     kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// ProduceIngestTask 发送一个知识导入任务到 Kafka，以 TaskID 作为消息 key。
func ProduceIngestTask(ctx context.Context, task tasks.KnowledgeIngestTask) error {
	if producer == nil {
		return errors.New("kafka producer 未初始化")
	}
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.TaskID),
		Value: taskBytes,
	})
}

// Publisher 把 ProduceIngestTask 暴露为可注入的发布者。
type Publisher struct{}

func (Publisher) Publish(ctx context.Context, task tasks.KnowledgeIngestTask) error {
	return ProduceIngestTask(ctx, task)
}

// CloseProducer 关闭生产者并刷出缓冲消息。
func CloseProducer() {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		log.Errorf("关闭 Kafka 生产者失败: %v", err)
	}
}

// AttemptCounter 记录任务失败次数。
type AttemptCounter interface {
	Incr(ctx context.Context, taskID string) (int64, error)
	Reset(ctx context.Context, taskID string)
}

// RedisAttempts 用 Redis 计数，键为 kafka:attempts:<task_id>，24 小时过期。
type RedisAttempts struct {
	rdb *redis.Client
}

func NewRedisAttempts(rdb *redis.Client) *RedisAttempts {
	return &RedisAttempts{rdb: rdb}
}

func attemptsKey(taskID string) string {
	return fmt.Sprintf("kafka:attempts:%s", taskID)
}

func (a *RedisAttempts) Incr(ctx context.Context, taskID string) (int64, error) {
	key := attemptsKey(taskID)
	attempts, err := a.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = a.rdb.Expire(ctx, key, 24*time.Hour).Err()
	return attempts, nil
}

func (a *RedisAttempts) Reset(ctx context.Context, taskID string) {
	_ = a.rdb.Del(ctx, attemptsKey(taskID)).Err()
}

// messageReader 是消费循环用到的 kafka.Reader 子集。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// StartConsumer 启动一个 Kafka 消费者来处理知识导入任务，ctx 取消时退出。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptCounter) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(cfg.Brokers, ","),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)
	consume(ctx, r, processor, attempts)
}

func consume(ctx context.Context, r messageReader, processor TaskProcessor, attempts AttemptCounter) {
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Kafka 消费者已停止")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			return
		}
		handleMessage(ctx, r, m, processor, attempts)
	}
}

func handleMessage(ctx context.Context, r messageReader, m kafka.Message, processor TaskProcessor, attempts AttemptCounter) {
	log.Infof("收到 Kafka 消息: offset %d", m.Offset)

	var task tasks.KnowledgeIngestTask
	if err := json.Unmarshal(m.Value, &task); err != nil || task.TaskID == "" {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		// 消息格式错误，直接提交，避免阻塞队列
		commit(ctx, r, m)
		return
	}

	log.Infof("开始处理导入任务: TaskID=%s, FileName=%s", task.TaskID, task.FileName)
	if err := processor.Process(ctx, task); err != nil {
		log.Errorf("处理导入任务失败: TaskID=%s, Error: %v", task.TaskID, err)
		n, incErr := attempts.Incr(ctx, task.TaskID)
		if incErr != nil {
			// 计数不可用时保守处理：不提交 offset，让 Kafka 重试
			return
		}
		if n >= maxAttempts {
			log.Errorf("导入任务多次失败(>=%d)，提交 offset 终止重试: TaskID=%s", maxAttempts, task.TaskID)
			commit(ctx, r, m)
		}
		return
	}

	log.Infof("导入任务处理成功: TaskID=%s", task.TaskID)
	attempts.Reset(ctx, task.TaskID)
	commit(ctx, r, m)
}

func commit(ctx context.Context, r messageReader, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
