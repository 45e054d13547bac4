package gateway

import (
	"context"
	"log"

	goredis "github.com/go-redis/redis/v8"
)

// RunRedis feeds the hub from Redis pubsub so the gateway can run apart
// from the engine. It subscribes to every snapshot and signal channel and
// blocks until ctx is cancelled.
func (h *Hub) RunRedis(ctx context.Context, rdb *goredis.Client) {
	pubsub := rdb.PSubscribe(ctx, "pub:snapshot:*", "pub:signal:*")
	defer pubsub.Close()

	log.Printf("[gateway] subscribed to redis snapshot and signal channels")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}
