package broadcast

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "meeting-live:session:"

// RedisRelay shares events between instances over Redis pub/sub.
type RedisRelay struct {
	client *redis.Client
}

func NewRedisRelay(client *redis.Client) *RedisRelay {
	return &RedisRelay{client: client}
}

func (r *RedisRelay) Publish(ctx context.Context, sessionID uint, msg []byte) error {
	return r.client.Publish(ctx, channelName(sessionID), msg).Err()
}

// Run delivers relayed events into hub until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context, hub *Hub) error {
	sub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe relay: %w", err)
	}
	log.Printf("broadcast relay subscribed pattern=%s*", channelPrefix)
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			sessionID, err := parseChannel(msg.Channel)
			if err != nil {
				log.Printf("broadcast relay ignored channel=%s error=%v", msg.Channel, err)
				continue
			}
			hub.Deliver(sessionID, []byte(msg.Payload))
		}
	}
}

func channelName(sessionID uint) string {
	return channelPrefix + strconv.FormatUint(uint64(sessionID), 10)
}

func parseChannel(channel string) (uint, error) {
	raw, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok {
		return 0, fmt.Errorf("unexpected channel %q", channel)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
