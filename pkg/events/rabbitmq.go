package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Romano-de-la-vega/app-whisper/pkg/models"
)

// RabbitMQPublisher 把任务事件发到 RabbitMQ 的持久化队列
// 只发布，不消费：下游（通知、统计）自己订阅
type RabbitMQPublisher struct {
	url       string
	queueName string

	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.Mutex // amqp.Channel 不是并发安全的
	closed  bool
}

// NewRabbitMQPublisher 连接 RabbitMQ 并声明队列
func NewRabbitMQPublisher(url, queueName string) (*RabbitMQPublisher, error) {
	rp := &RabbitMQPublisher{
		url:       url,
		queueName: queueName,
	}

	if err := rp.setupPublisher(); err != nil {
		return nil, fmt.Errorf("初始化发布者失败: %w", err)
	}

	log.Printf("✓ RabbitMQ 事件发布者初始化成功 (队列: %s)", queueName)
	return rp, nil
}

// setupPublisher 建立连接和通道
func (rp *RabbitMQPublisher) setupPublisher() error {
	conn, err := amqp.Dial(rp.url)
	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("创建 RabbitMQ Channel 失败: %w", err)
	}

	// 声明持久化队列（幂等操作）
	_, err = ch.QueueDeclare(
		rp.queueName, // name
		true,         // durable
		false,        // autoDelete
		false,        // exclusive
		false,        // noWait
		nil,          // args
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("声明队列失败: %w", err)
	}

	rp.conn = conn
	rp.channel = ch
	return nil
}

// Publish 发布事件（5 秒超时）
func (rp *RabbitMQPublisher) Publish(ctx context.Context, event models.JobEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.closed {
		return fmt.Errorf("发布者已关闭")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = rp.channel.PublishWithContext(
		ctx,
		"",           // exchange: 默认 exchange
		rp.queueName, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Type:         string(event.Type),
			MessageId:    event.JobID + ":" + string(event.Type),
			Body:         body,
			Timestamp:    event.Timestamp,
		},
	)
	if err != nil {
		return fmt.Errorf("发布消息失败: %w", err)
	}

	return nil
}

// Close 关闭通道和连接
func (rp *RabbitMQPublisher) Close() error {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.closed {
		return nil
	}
	rp.closed = true

	if rp.channel != nil {
		rp.channel.Close()
	}
	if rp.conn != nil {
		rp.conn.Close()
	}

	log.Println("✓ RabbitMQ 事件发布者已关闭")
	return nil
}
