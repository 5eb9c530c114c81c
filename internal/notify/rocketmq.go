package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
)

const producerGroup = "meeting_live_producer"

type RocketMQ struct {
	producer rocketmq.Producer
	topic    string
}

func NewRocketMQ(nameServer, topic string) (*RocketMQ, error) {
	p, err := rocketmq.NewProducer(
		producer.WithNameServer([]string{nameServer}),
		producer.WithGroupName(producerGroup),
		producer.WithRetry(2),
		producer.WithSendMsgTimeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create rocketmq producer: %w", err)
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("start rocketmq producer: %w", err)
	}
	log.Printf("rocketmq producer started name_server=%s topic=%s", nameServer, topic)
	return &RocketMQ{producer: p, topic: topic}, nil
}

// Notify sends asynchronously. The event type becomes the message tag and the
// message id the key, so consumers can filter and deduplicate.
func (r *RocketMQ) Notify(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	m := primitive.NewMessage(r.topic, body)
	m.WithTag(msg.Type)
	m.WithKeys([]string{msg.ID})
	return r.producer.SendAsync(ctx, func(_ context.Context, result *primitive.SendResult, err error) {
		if err != nil {
			log.Printf("rocketmq send failed type=%s session_id=%d error=%v", msg.Type, msg.SessionID, err)
			return
		}
		if result.Status != primitive.SendOK {
			log.Printf("rocketmq send not ok type=%s session_id=%d status=%d", msg.Type, msg.SessionID, result.Status)
		}
	}, m)
}

func (r *RocketMQ) Shutdown() error {
	return r.producer.Shutdown()
}
