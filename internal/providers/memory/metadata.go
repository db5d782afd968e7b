package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/plumwheel/ragnos-vault/pkg/provider"
)

type metadataService struct {
	mu      sync.Mutex
	entries map[string]provider.Entry
}

func newMetadataService() *metadataService {
	return &metadataService{entries: make(map[string]provider.Entry)}
}

func (m *metadataService) GetEntry(ctx *provider.Context, key string) (provider.Entry, error) {
	if err := ctx.CheckExpired(); err != nil {
		return provider.Entry{}, err
	}
	m.mu.Lock()
	entry, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		return provider.Entry{}, provider.NewError(provider.CodeNotFound, "memory", "metadataStore.get",
			fmt.Sprintf("entry %q not found", key), nil)
	}
	return entry, nil
}

func (m *metadataService) PutEntry(ctx *provider.Context, req provider.PutEntryRequest) (provider.Entry, error) {
	if err := ctx.CheckExpired(); err != nil {
		return provider.Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	value := make([]byte, len(req.Value))
	copy(value, req.Value)
	entry := provider.Entry{
		Key:       req.Key,
		Value:     value,
		Version:   m.entries[req.Key].Version + 1,
		UpdatedAt: time.Now(),
	}
	m.entries[req.Key] = entry
	return entry, nil
}

func (m *metadataService) CompareAndSwap(ctx *provider.Context, req provider.CASRequest) (provider.CASResult, error) {
	if err := ctx.CheckExpired(); err != nil {
		return provider.CASResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.entries[req.Key]
	if current.Version != req.ExpectedVersion {
		return provider.CASResult{Swapped: false, CurrentVersion: current.Version}, nil
	}

	value := make([]byte, len(req.Value))
	copy(value, req.Value)
	entry := provider.Entry{
		Key:       req.Key,
		Value:     value,
		Version:   current.Version + 1,
		UpdatedAt: time.Now(),
	}
	m.entries[req.Key] = entry
	return provider.CASResult{Swapped: true, CurrentVersion: entry.Version}, nil
}

func (m *metadataService) DeleteEntry(ctx *provider.Context, req provider.DeleteEntryRequest) error {
	if err := ctx.CheckExpired(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[req.Key]; !ok {
		return provider.NewError(provider.CodeNotFound, "memory", "metadataStore.delete",
			fmt.Sprintf("entry %q not found", req.Key), nil)
	}
	delete(m.entries, req.Key)
	return nil
}

func (m *metadataService) ListEntries(ctx *provider.Context, req provider.ListEntriesRequest) (provider.EntryList, error) {
	if err := ctx.CheckExpired(); err != nil {
		return provider.EntryList{}, err
	}
	m.mu.Lock()
	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		if strings.HasPrefix(key, req.Prefix) {
			keys = append(keys, key)
		}
	}
	m.mu.Unlock()
	sort.Strings(keys)

	page, next, err := paginate(keys, req.NextToken, req.MaxResults)
	if err != nil {
		return provider.EntryList{}, provider.NewError(provider.CodeInvalidConfig, "memory", "metadataStore.list", "bad page token", err)
	}
	return provider.EntryList{Keys: page, NextToken: next}, nil
}
