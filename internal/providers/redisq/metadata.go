package redisq

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

type metadataService struct {
	client *redis.Client
	prefix string
}

func (m *metadataService) entryKey(key string) string {
	return fmt.Sprintf("%s:meta:entry:%s", m.prefix, key)
}

func (m *metadataService) indexKey() string {
	return fmt.Sprintf("%s:meta:index", m.prefix)
}

func parseEntry(key string, fields map[string]string) (provider.Entry, error) {
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return provider.Entry{}, fmt.Errorf("bad version field: %w", err)
	}
	updatedMilli, err := strconv.ParseInt(fields["updatedAt"], 10, 64)
	if err != nil {
		return provider.Entry{}, fmt.Errorf("bad updatedAt field: %w", err)
	}
	return provider.Entry{
		Key:       key,
		Value:     []byte(fields["value"]),
		Version:   version,
		UpdatedAt: time.UnixMilli(updatedMilli),
	}, nil
}

func (m *metadataService) GetEntry(ctx *provider.Context, key string) (provider.Entry, error) {
	if err := ctx.CheckExpired(); err != nil {
		return provider.Entry{}, err
	}
	fields, err := m.client.HGetAll(ctx, m.entryKey(key)).Result()
	if err != nil {
		return provider.Entry{}, netErr("metadataStore.get", err)
	}
	if len(fields) == 0 {
		return provider.Entry{}, provider.NewError(provider.CodeNotFound, "redis", "metadataStore.get",
			fmt.Sprintf("entry %q not found", key), nil)
	}
	entry, err := parseEntry(key, fields)
	if err != nil {
		return provider.Entry{}, provider.NewError(provider.CodeDataIntegrity, "redis", "metadataStore.get", "corrupt entry", err)
	}
	return entry, nil
}

func (m *metadataService) write(ctx *provider.Context, key string, value []byte, version int64) error {
	now := ctx.Clock().Now()
	pipe := m.client.TxPipeline()
	pipe.HSet(ctx, m.entryKey(key), map[string]any{
		"value":     value,
		"version":   version,
		"updatedAt": now.UnixMilli(),
	})
	pipe.SAdd(ctx, m.indexKey(), key)
	_, err := pipe.Exec(ctx)
	return err
}

func (m *metadataService) PutEntry(ctx *provider.Context, req provider.PutEntryRequest) (provider.Entry, error) {
	if err := ctx.CheckExpired(); err != nil {
		return provider.Entry{}, err
	}
	version, err := m.client.HIncrBy(ctx, m.entryKey(req.Key), "version", 1).Result()
	if err != nil {
		return provider.Entry{}, netErr("metadataStore.put", err)
	}
	if err := m.write(ctx, req.Key, req.Value, version); err != nil {
		return provider.Entry{}, netErr("metadataStore.put", err)
	}
	return provider.Entry{
		Key:       req.Key,
		Value:     req.Value,
		Version:   version,
		UpdatedAt: ctx.Clock().Now(),
	}, nil
}

// CompareAndSwap uses redis optimistic locking: the entry key is watched
// and the transaction aborts if another writer touches it first.
func (m *metadataService) CompareAndSwap(ctx *provider.Context, req provider.CASRequest) (provider.CASResult, error) {
	if err := ctx.CheckExpired(); err != nil {
		return provider.CASResult{}, err
	}

	var result provider.CASResult
	err := m.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, m.entryKey(req.Key), "version").Result()
		var version int64
		switch {
		case err == redis.Nil:
			version = 0
		case err != nil:
			return err
		default:
			version, err = strconv.ParseInt(current, 10, 64)
			if err != nil {
				return err
			}
		}

		if version != req.ExpectedVersion {
			result = provider.CASResult{Swapped: false, CurrentVersion: version}
			return nil
		}

		now := ctx.Clock().Now()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, m.entryKey(req.Key), map[string]any{
				"value":     req.Value,
				"version":   version + 1,
				"updatedAt": now.UnixMilli(),
			})
			pipe.SAdd(ctx, m.indexKey(), req.Key)
			return nil
		})
		if err != nil {
			return err
		}
		result = provider.CASResult{Swapped: true, CurrentVersion: version + 1}
		return nil
	}, m.entryKey(req.Key))
	if err != nil {
		return provider.CASResult{}, netErr("metadataStore.compareAndSwap", err)
	}
	return result, nil
}

func (m *metadataService) DeleteEntry(ctx *provider.Context, req provider.DeleteEntryRequest) error {
	if err := ctx.CheckExpired(); err != nil {
		return err
	}
	removed, err := m.client.Del(ctx, m.entryKey(req.Key)).Result()
	if err != nil {
		return netErr("metadataStore.delete", err)
	}
	if removed == 0 {
		return provider.NewError(provider.CodeNotFound, "redis", "metadataStore.delete",
			fmt.Sprintf("entry %q not found", req.Key), nil)
	}
	if err := m.client.SRem(ctx, m.indexKey(), req.Key).Err(); err != nil {
		return netErr("metadataStore.delete", err)
	}
	return nil
}

func (m *metadataService) ListEntries(ctx *provider.Context, req provider.ListEntriesRequest) (provider.EntryList, error) {
	if err := ctx.CheckExpired(); err != nil {
		return provider.EntryList{}, err
	}
	all, err := m.client.SMembers(ctx, m.indexKey()).Result()
	if err != nil {
		return provider.EntryList{}, netErr("metadataStore.list", err)
	}

	keys := all[:0]
	for _, key := range all {
		if strings.HasPrefix(key, req.Prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	max := req.MaxResults
	if max <= 0 {
		max = 100
	}
	start := 0
	if req.NextToken != "" {
		n, err := strconv.Atoi(req.NextToken)
		if err != nil || n < 0 {
			return provider.EntryList{}, provider.NewError(provider.CodeInvalidConfig, "redis", "metadataStore.list", "bad page token", err)
		}
		start = n
	}
	if start >= len(keys) {
		return provider.EntryList{}, nil
	}
	end := start + max
	next := ""
	if end < len(keys) {
		next = strconv.Itoa(end)
	} else {
		end = len(keys)
	}
	return provider.EntryList{Keys: keys[start:end], NextToken: next}, nil
}
