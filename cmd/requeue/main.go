package main

import (
	"context"
	"fmt"
	"log"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/jar-analysis/jar-analysis-go/internal/config"
	"github.com/jar-analysis/jar-analysis-go/internal/domain"
	"github.com/jar-analysis/jar-analysis-go/internal/queue"
	"github.com/jar-analysis/jar-analysis-go/internal/repository"
)

// requeue resets every failed task and puts it back on the queue. Useful
// after fixing a broken decompiler install or a bad mapping cache.
func main() {
	cfg, err := config.Load("./configs/config.yaml")
	if err != nil {
		log.Fatal(err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	mqConfig := &queue.RabbitMQConfig{
		Host:     cfg.RabbitMQ.Host,
		Port:     cfg.RabbitMQ.Port,
		User:     cfg.RabbitMQ.User,
		Password: cfg.RabbitMQ.Password,
		VHost:    cfg.RabbitMQ.VHost,
	}

	mq, err := queue.NewRabbitMQ(mqConfig, cfg.RabbitMQ.Queue, logger)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer mq.Close()

	producer := queue.NewProducer(mq, logger)

	var failedTasks []domain.Task
	if err := db.Where("status = ?", domain.TaskStatusFailed).Find(&failedTasks).Error; err != nil {
		log.Fatalf("Failed to query failed tasks: %v", err)
	}

	fmt.Printf("Found %d failed tasks\n", len(failedTasks))

	successCount := 0
	for i, task := range failedTasks {
		updates := map[string]interface{}{
			"status":           domain.TaskStatusQueued,
			"outcome":          "",
			"failure_type":     "",
			"error_message":    "",
			"current_step":     "requeued",
			"progress_percent": 0,
			"backend_used":     "",
			"started_at":       nil,
			"completed_at":     nil,
			"retry_count":      gorm.Expr("retry_count + 1"),
		}

		if err := db.Model(&domain.Task{}).Where("id = ?", task.ID).Updates(updates).Error; err != nil {
			log.Printf("Failed to reset task %s: %v", task.ID, err)
			continue
		}

		msg := &queue.TaskMessage{
			TaskID:  task.ID,
			JARName: task.JARName,
		}
		if err := producer.Publish(context.Background(), msg); err != nil {
			log.Printf("Failed to publish task %s: %v", task.ID, err)
			continue
		}

		successCount++
		if (i+1)%100 == 0 {
			fmt.Printf("Progress: %d/%d\n", i+1, len(failedTasks))
		}
	}

	fmt.Printf("\nRequeued %d/%d tasks\n", successCount, len(failedTasks))
}
