// Package events publishes broker domain events on Redis pub/sub so other
// services (notifications, dashboards) can react. Publishing is best effort.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Channels.
const (
	ChannelJobStatus     = "EVENT_JOB_STATUS"
	ChannelOffersCreated = "EVENT_OFFERS_CREATED"
	ChannelOfferResolved = "EVENT_OFFER_RESOLVED"
)

// JobStatusChanged is published on ChannelJobStatus.
type JobStatusChanged struct {
	Type       string `json:"type"`
	JobID      string `json:"jobId"`
	CustomerID string `json:"customerId"`
	From       string `json:"from"`
	To         string `json:"to"`
}

// OffersCreated is published on ChannelOffersCreated.
type OffersCreated struct {
	Type          string   `json:"type"`
	JobID         string   `json:"jobId"`
	ContractorIDs []string `json:"contractorIds"`
	ExpiresAt     string   `json:"expiresAt"`
}

// OfferResolved is published on ChannelOfferResolved.
type OfferResolved struct {
	Type         string `json:"type"`
	OfferID      string `json:"offerId"`
	JobID        string `json:"jobId"`
	ContractorID string `json:"contractorId"`
	Status       string `json:"status"`
}

// Publisher sends an event to a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, event any) error
}

// Redis publishes JSON-encoded events with PUBLISH.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) Publish(ctx context.Context, channel string, event any) error {
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", channel, err)
	}
	if err := r.rdb.Publish(ctx, channel, b).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Nop drops every event. Used when REDIS_URL is unset.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }
