package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// TaskMessage is the queue payload for one archive analysis task.
type TaskMessage struct {
	TaskID  string `json:"task_id"`
	JARName string `json:"jar_name"`
}

type Producer struct {
	mq     *RabbitMQ
	logger *logrus.Logger
}

func NewProducer(mq *RabbitMQ, logger *logrus.Logger) *Producer {
	return &Producer{
		mq:     mq,
		logger: logger,
	}
}

// IsConnected reports whether the underlying broker connection is up.
func (p *Producer) IsConnected() bool {
	return p.mq.IsConnected()
}

func (p *Producer) Publish(ctx context.Context, msg *TaskMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := p.mq.Publish(ctx, body); err != nil {
		p.logger.WithError(err).WithField("task_id", msg.TaskID).Error("Failed to publish task")
		return fmt.Errorf("failed to publish: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"task_id":  msg.TaskID,
		"jar_name": msg.JARName,
	}).Info("Task published to queue")

	return nil
}

// PublishTask satisfies the worker's TaskPublisher interface for retries.
func (p *Producer) PublishTask(ctx context.Context, taskID string) error {
	return p.Publish(ctx, &TaskMessage{TaskID: taskID})
}

func (p *Producer) GetQueueSize() (int, error) {
	messageCount, _, err := p.mq.GetQueueStats()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue stats: %w", err)
	}
	return messageCount, nil
}
