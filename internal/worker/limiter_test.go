package worker

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_New(t *testing.T) {
	limiter := NewLimiter(10, 5)
	if limiter.defaultBurst != 5 {
		t.Errorf("expected burst 5, got %d", limiter.defaultBurst)
	}

	l2 := NewLimiter(10, -1)
	if l2.defaultBurst != 1 {
		t.Errorf("expected default burst 1 for negative input, got %d", l2.defaultBurst)
	}
}

// waitBriefly reports whether a call under key proceeds within a short window
func waitBriefly(l *Limiter, key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	return l.Wait(ctx, key) == nil
}

func TestLimiter_Unlimited(t *testing.T) {
	limiter := NewLimiter(0, 1)
	for i := 0; i < 100; i++ {
		if !waitBriefly(limiter, Key("openai", "gpt-4o")) {
			t.Fatalf("call %d should be allowed with no rate configured", i)
		}
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewLimiter(0.001, 1)

	if !waitBriefly(limiter, Key("openai", "gpt-4o")) {
		t.Fatal("first call should be allowed")
	}
	if waitBriefly(limiter, Key("openai", "gpt-4o")) {
		t.Error("second call on the same key should be throttled")
	}
	if !waitBriefly(limiter, Key("openai", "gpt-4o-mini")) {
		t.Error("a different model should have its own budget")
	}
}

func TestLimiter_WaitRespectsContext(t *testing.T) {
	limiter := NewLimiter(0.001, 1)
	key := Key("anthropic", "claude")
	_ = limiter.Wait(context.Background(), key)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx, key); err == nil {
		t.Error("expected wait to fail once the context expires")
	}
}

func TestLimiter_NilIsUnlimited(t *testing.T) {
	var limiter *Limiter
	if err := limiter.Wait(context.Background(), "x"); err != nil {
		t.Errorf("nil limiter wait: %v", err)
	}
}
