package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig("test")
	cfg.FailureThreshold = 2
	cfg.Timeout = time.Minute
	cb, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	boom := errors.New("sftp: connection refused")
	for i := 0; i < 2; i++ {
		if _, err := cb.Execute(context.Background(), func() (interface{}, error) { return nil, boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: expected the underlying error, got %v", i+1, err)
		}
	}
	if !cb.IsOpen() {
		t.Fatalf("expected open circuit, state %s", cb.GetState())
	}

	called := false
	_, err = cb.Execute(context.Background(), func() (interface{}, error) {
		called = true
		return nil, nil
	})
	if !IsOpenError(err) || called {
		t.Errorf("open circuit must reject without calling, err=%v called=%v", err, called)
	}

	got, err := cb.ExecuteWithFallback(context.Background(),
		func() (interface{}, error) { return "live", nil },
		func(error) (interface{}, error) { return "fallback", nil })
	if err != nil || got != "fallback" {
		t.Errorf("ExecuteWithFallback = %v, %v", got, err)
	}
}

func TestDoReturnsTypedResult(t *testing.T) {
	cb, err := New(DefaultConfig("typed"), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n, err := Do(context.Background(), cb, func(context.Context) (int, error) { return 42, nil })
	if err != nil || n != 42 {
		t.Errorf("Do = %d, %v", n, err)
	}
}

func TestCancellationDoesNotTrip(t *testing.T) {
	cfg := DefaultConfig("cancel")
	cfg.FailureThreshold = 1
	cb, _ := New(cfg, nil)
	for i := 0; i < 3; i++ {
		_, _ = cb.Execute(context.Background(), func() (interface{}, error) { return nil, context.Canceled })
	}
	if !cb.IsClosed() {
		t.Errorf("cancelled calls must not open the circuit, state %s", cb.GetState())
	}
}

func TestManagerReusesBreakers(t *testing.T) {
	m := NewManager(nil)
	a, err := m.GetOrCreate(NamePricing, PricingConfig())
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	b, _ := m.GetOrCreate(NamePricing, PricingConfig())
	if a != b {
		t.Error("expected the same breaker instance")
	}
	if _, ok := m.Get(NameClearinghouse); ok {
		t.Error("unexpected clearinghouse breaker")
	}
	status := m.GetHealthStatus()
	if len(status) != 1 || !status[0].Healthy {
		t.Errorf("unexpected health: %+v", status)
	}
}
