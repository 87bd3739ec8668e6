package redis

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "ChemResponse-Chain/internal/errors"
	"ChemResponse-Chain/internal/llm"
	"ChemResponse-Chain/pkg/logger"
)

type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeKV) Get(_ context.Context, key string) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return goredis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (f *fakeKV) Set(_ context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return goredis.NewStatusResult("", f.err)
	}
	f.data[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return goredis.NewStatusResult("OK", nil)
}

func TestResponseCacheRoundTrip(t *testing.T) {
	kv := newFakeKV()
	cache := newResponseCache(kv, "test:", time.Minute)
	ctx := context.Background()

	if _, ok, err := cache.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	want := []string{`{"a":1}`, "文本"}
	if err := cache.Set(ctx, "k", want); err != nil {
		t.Fatalf("set: %v", err)
	}
	if kv.ttls["test:k"] != time.Minute {
		t.Fatalf("unexpected ttl %s", kv.ttls["test:k"])
	}

	texts, ok, err := cache.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(texts, want) {
		t.Fatalf("unexpected texts %v", texts)
	}
}

func TestResponseCacheErrors(t *testing.T) {
	kv := newFakeKV()
	kv.data["chemresponse:llm:bad"] = "not json"
	cache := newResponseCache(kv, "", 0)

	if _, _, err := cache.Get(context.Background(), "bad"); xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure for corrupt entry, got %v", err)
	}

	kv.err = errors.New("connection refused")
	if _, _, err := cache.Get(context.Background(), "k"); xerrors.CodeOf(err) != xerrors.CodeStorageFailure {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if err := cache.Set(context.Background(), "k", []string{"x"}); err == nil {
		t.Fatalf("expected set error")
	}
}

func TestResponseCacheServesCachedClient(t *testing.T) {
	calls := 0
	client := llm.ClientFunc(func(context.Context, string, int) ([]string, error) {
		calls++
		return []string{"reply"}, nil
	})
	cached := llm.WithCache(client, newResponseCache(newFakeKV(), "", time.Minute), logger.Discard())

	for i := 0; i < 2; i++ {
		texts, err := cached.Query(context.Background(), "prompt", 1)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(texts) != 1 || texts[0] != "reply" {
			t.Fatalf("unexpected texts %v", texts)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one upstream call, got %d", calls)
	}
}

func TestNewResponseCacheRequiresAddress(t *testing.T) {
	if _, err := NewResponseCache(context.Background(), Config{}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}
