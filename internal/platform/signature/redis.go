// Package signature carries consent signature traffic over Redis pub/sub.
// Signature requests are published for the patient-facing signing service;
// completed signatures come back as signed events on a second channel.
package signature

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ehr/orderconsole/internal/domain/consent"
)

const (
	RequestChannel = "orderconsole:consent:requests"
	SignedChannel  = "orderconsole:consent:signed"
)

// SignedEvent is published by the signing service once the patient signs.
type SignedEvent struct {
	DraftID   string    `json:"draft_id"`
	ItemID    string    `json:"item_id"`
	RequestID string    `json:"request_id"`
	SignedAt  time.Time `json:"signed_at"`
}

func (e SignedEvent) validate() error {
	if e.DraftID == "" || e.ItemID == "" {
		return errors.New("signed event needs draft_id and item_id")
	}
	return nil
}

// SignedFunc receives decoded signed events.
type SignedFunc func(ctx context.Context, ev SignedEvent) error

// publisher is the subset of the redis client used to publish.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Channel implements consent.SignatureChannel on top of Redis.
type Channel struct {
	client *redis.Client
	pub    publisher
	logger zerolog.Logger
}

func NewChannel(client *redis.Client, logger zerolog.Logger) *Channel {
	return &Channel{client: client, pub: client, logger: logger}
}

var _ consent.SignatureChannel = (*Channel)(nil)

// RequestSignature publishes req. It reports an error when no signing service
// is subscribed, since the request would otherwise wait forever.
func (c *Channel) RequestSignature(ctx context.Context, req consent.SignatureRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal signature request: %w", err)
	}
	receivers, err := c.pub.Publish(ctx, RequestChannel, data).Result()
	if err != nil {
		return fmt.Errorf("failed to publish signature request: %w", err)
	}
	if receivers == 0 {
		return fmt.Errorf("no signing service subscribed to %s", RequestChannel)
	}
	c.logger.Debug().
		Str("draft_id", req.DraftID).
		Str("item_id", req.ItemID).
		Str("request_id", req.RequestID).
		Int64("receivers", receivers).
		Msg("signature request published")
	return nil
}

// Listen subscribes to signed events and hands each to fn until ctx is done.
func (c *Channel) Listen(ctx context.Context, fn SignedFunc) error {
	pubsub := c.client.Subscribe(ctx, SignedChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", SignedChannel, err)
	}
	c.logger.Info().Str("channel", SignedChannel).Msg("listening for signed consent events")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			c.dispatch(ctx, msg.Payload, fn)
		}
	}
}

func (c *Channel) dispatch(ctx context.Context, payload string, fn SignedFunc) {
	var ev SignedEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		c.logger.Warn().Err(err).Msg("failed to unmarshal signed event")
		return
	}
	if err := ev.validate(); err != nil {
		c.logger.Warn().Err(err).Msg("invalid signed event")
		return
	}
	if err := fn(ctx, ev); err != nil {
		c.logger.Warn().Err(err).
			Str("draft_id", ev.DraftID).
			Str("item_id", ev.ItemID).
			Str("request_id", ev.RequestID).
			Msg("signed event not applied")
	}
}
