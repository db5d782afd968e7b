package redisq

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

type queueService struct {
	client *redis.Client
	prefix string
}

func (q *queueService) schedKey(queue string) string {
	return fmt.Sprintf("%s:queue:%s:sched", q.prefix, queue)
}

func (q *queueService) seqKey(queue string) string {
	return fmt.Sprintf("%s:queue:%s:seq", q.prefix, queue)
}

func (q *queueService) msgKey(queue, id string) string {
	return fmt.Sprintf("%s:queue:%s:msg:%s", q.prefix, queue, id)
}

func netErr(op string, err error) error {
	return provider.NewError(provider.CodeTransientNetwork, "redis", op, "redis command failed", err)
}

func (q *queueService) Enqueue(ctx *provider.Context, req provider.EnqueueRequest) (provider.EnqueueResult, error) {
	if err := ctx.CheckExpired(); err != nil {
		return provider.EnqueueResult{}, err
	}
	now := ctx.Clock().Now()

	seq, err := q.client.Incr(ctx, q.seqKey(req.Queue)).Result()
	if err != nil {
		return provider.EnqueueResult{}, netErr("queue.enqueue", err)
	}

	id := uuid.NewString()
	fields := map[string]any{
		"body":     req.Body,
		"sequence": seq,
		"attempts": 0,
	}
	if len(req.Attributes) > 0 {
		attrs, err := json.Marshal(req.Attributes)
		if err != nil {
			return provider.EnqueueResult{}, provider.NewError(provider.CodeInternal, "redis", "queue.enqueue", "attribute encoding failed", err)
		}
		fields["attributes"] = attrs
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.msgKey(req.Queue, id), fields)
	pipe.ZAdd(ctx, q.schedKey(req.Queue), redis.Z{
		Score:  float64(now.Add(req.Delay).UnixMilli()),
		Member: id,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return provider.EnqueueResult{}, netErr("queue.enqueue", err)
	}
	return provider.EnqueueResult{MessageID: id, Sequence: seq}, nil
}

func (q *queueService) Dequeue(ctx *provider.Context, req provider.DequeueRequest) ([]provider.Message, error) {
	if err := ctx.CheckExpired(); err != nil {
		return nil, err
	}
	now := ctx.Clock().Now()
	max := req.MaxMessages
	if max <= 0 {
		max = 1
	}
	visibility := req.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}

	ids, err := q.client.ZRangeByScore(ctx, q.schedKey(req.Queue), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(max),
	}).Result()
	if err != nil {
		return nil, netErr("queue.dequeue", err)
	}

	messages := make([]provider.Message, 0, len(ids))
	for _, id := range ids {
		receipt := uuid.NewString()

		pipe := q.client.TxPipeline()
		pipe.ZAdd(ctx, q.schedKey(req.Queue), redis.Z{
			Score:  float64(now.Add(visibility).UnixMilli()),
			Member: id,
		})
		pipe.HIncrBy(ctx, q.msgKey(req.Queue, id), "attempts", 1)
		pipe.HSet(ctx, q.msgKey(req.Queue, id), "receipt", receipt)
		getCmd := pipe.HGetAll(ctx, q.msgKey(req.Queue, id))
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, netErr("queue.dequeue", err)
		}

		fields := getCmd.Val()
		seq, _ := strconv.ParseInt(fields["sequence"], 10, 64)
		attempts, _ := strconv.Atoi(fields["attempts"])
		var attrs map[string]string
		if raw := fields["attributes"]; raw != "" {
			if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
				return nil, provider.NewError(provider.CodeDataIntegrity, "redis", "queue.dequeue", "attribute decoding failed", err)
			}
		}
		messages = append(messages, provider.Message{
			MessageID:     id,
			Body:          []byte(fields["body"]),
			ReceiptHandle: receipt,
			Sequence:      seq,
			Attempts:      attempts,
			Attributes:    attrs,
		})
	}
	return messages, nil
}

// claim resolves a receipt handle back to its message id, rejecting stale
// handles from earlier deliveries.
func (q *queueService) claim(ctx *provider.Context, op, queue, receipt string) (string, error) {
	ids, err := q.client.ZRange(ctx, q.schedKey(queue), 0, -1).Result()
	if err != nil {
		return "", netErr(op, err)
	}
	for _, id := range ids {
		current, err := q.client.HGet(ctx, q.msgKey(queue, id), "receipt").Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return "", netErr(op, err)
		}
		if current == receipt {
			return id, nil
		}
	}
	return "", provider.NewError(provider.CodeNotFound, "redis", op,
		fmt.Sprintf("no in-flight delivery for receipt %q", receipt), nil)
}

func (q *queueService) Ack(ctx *provider.Context, req provider.AckRequest) error {
	if err := ctx.CheckExpired(); err != nil {
		return err
	}
	id, err := q.claim(ctx, "queue.ack", req.Queue, req.ReceiptHandle)
	if err != nil {
		return err
	}
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.schedKey(req.Queue), id)
	pipe.Del(ctx, q.msgKey(req.Queue, id))
	if _, err := pipe.Exec(ctx); err != nil {
		return netErr("queue.ack", err)
	}
	return nil
}

func (q *queueService) Nack(ctx *provider.Context, req provider.NackRequest) error {
	if err := ctx.CheckExpired(); err != nil {
		return err
	}
	id, err := q.claim(ctx, "queue.nack", req.Queue, req.ReceiptHandle)
	if err != nil {
		return err
	}
	now := ctx.Clock().Now()
	pipe := q.client.TxPipeline()
	pipe.ZAdd(ctx, q.schedKey(req.Queue), redis.Z{Score: float64(now.UnixMilli()), Member: id})
	pipe.HDel(ctx, q.msgKey(req.Queue, id), "receipt")
	if _, err := pipe.Exec(ctx); err != nil {
		return netErr("queue.nack", err)
	}
	return nil
}

func (q *queueService) ChangeVisibility(ctx *provider.Context, req provider.ChangeVisibilityRequest) error {
	if err := ctx.CheckExpired(); err != nil {
		return err
	}
	id, err := q.claim(ctx, "queue.changeVisibility", req.Queue, req.ReceiptHandle)
	if err != nil {
		return err
	}
	now := ctx.Clock().Now()
	err = q.client.ZAdd(ctx, q.schedKey(req.Queue), redis.Z{
		Score:  float64(now.Add(req.VisibilityTimeout).UnixMilli()),
		Member: id,
	}).Err()
	if err != nil {
		return netErr("queue.changeVisibility", err)
	}
	if req.VisibilityTimeout <= 0 {
		if err := q.client.HDel(ctx, q.msgKey(req.Queue, id), "receipt").Err(); err != nil {
			return netErr("queue.changeVisibility", err)
		}
	}
	return nil
}
