package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/pavelanni/assessor/internal/model"
)

// Redis pushes alerts and reports onto redis lists for a downstream consumer.
type Redis struct {
	rdb       *redis.Client
	alertsKey string
	reportKey string
}

// NewRedisClient parses url, connects and pings.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// NewRedis creates a sink writing to "<prefix>:alerts" and "<prefix>:reports".
func NewRedis(rdb *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "assessor"
	}
	return &Redis{rdb: rdb, alertsKey: prefix + ":alerts", reportKey: prefix + ":reports"}
}

type reportPayload struct {
	Alert    model.Alert    `json:"alert"`
	Document model.Document `json:"document"`
}

// Notify implements Notifier.
func (r *Redis) Notify(ctx context.Context, a model.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := r.rdb.RPush(ctx, r.alertsKey, data).Err(); err != nil {
		return fmt.Errorf("push alert: %w", err)
	}
	return nil
}

// Deliver pushes the alert and the report in one pipeline.
func (r *Redis) Deliver(ctx context.Context, a model.Alert, doc model.Document) error {
	alert, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	report, err := json.Marshal(reportPayload{Alert: a, Document: doc})
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	pipe := r.rdb.Pipeline()
	pipe.RPush(ctx, r.alertsKey, alert)
	pipe.RPush(ctx, r.reportKey, report)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push report: %w", err)
	}
	return nil
}
