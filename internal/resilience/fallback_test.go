package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/earshot/internal/observe"
)

func TestFallbackGroup_Order(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		failing map[string]bool
		want    []string
		wantErr bool
	}{
		{name: "primary succeeds", want: []string{"a"}},
		{name: "second succeeds", failing: map[string]bool{"a": true}, want: []string{"a", "b"}},
		{name: "last succeeds", failing: map[string]bool{"a": true, "b": true}, want: []string{"a", "b", "c"}},
		{name: "all fail", failing: map[string]bool{"a": true, "b": true, "c": true}, want: []string{"a", "b", "c"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fg := NewFallbackGroup("a", "a", breaker(3))
			fg.AddFallback("b", "b")
			fg.AddFallback("c", "c")

			var tried []string
			err := fg.Execute(context.Background(), func(v string) error {
				tried = append(tried, v)
				if tc.failing[v] {
					return errTest
				}
				return nil
			})
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.wantErr && !errors.Is(err, ErrAllFailed) {
				t.Errorf("err = %v, want ErrAllFailed", err)
			}
			if len(tried) != len(tc.want) {
				t.Fatalf("tried = %v, want %v", tried, tc.want)
			}
			for i := range tried {
				if tried[i] != tc.want[i] {
					t.Fatalf("tried = %v, want %v", tried, tc.want)
				}
			}
		})
	}
}

func TestExecuteWithResult_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup(1, "one", breaker(1))
	fg.AddFallback("two", 2)

	// Open the primary's breaker.
	_, _ = ExecuteWithResult(context.Background(), fg, func(v int) (int, error) {
		if v == 1 {
			return 0, errTest
		}
		return v * 10, nil
	})

	calls := 0
	got, err := ExecuteWithResult(context.Background(), fg, func(v int) (int, error) {
		calls++
		return v * 10, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != 20 || calls != 1 {
		t.Errorf("got %d after %d calls, want 20 after 1", got, calls)
	}
}

func TestExecuteWithResult_ContextDoneMidChain(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup("a", "a", breaker(3))
	fg.AddFallback("b", "b")

	ctx, cancel := context.WithCancel(context.Background())
	var tried []string
	_, err := ExecuteWithResult(ctx, fg, func(v string) (string, error) {
		tried = append(tried, v)
		cancel()
		return "", context.Canceled
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want bare context.Canceled", err)
	}
	if len(tried) != 1 {
		t.Errorf("tried = %v, want only the primary", tried)
	}
}

func TestFallbackGroup_StatusAndHealthy(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup("a", "a", breaker(1))
	fg.AddFallback("b", "b")

	if !fg.Healthy() {
		t.Fatal("fresh group should be healthy")
	}
	_ = fg.Execute(context.Background(), func(string) error { return errTest })

	for _, e := range fg.Status() {
		if e.State != StateOpen {
			t.Errorf("%s state = %v, want open", e.Name, e.State)
		}
	}
	if fg.Healthy() {
		t.Fatal("group with every breaker open should not be healthy")
	}
}

func TestFallbackGroup_RecordsMetrics(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	fg := NewFallbackGroup("a", "a", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Hour},
		Kind:           "stt",
		Metrics:        m,
	})
	fg.AddFallback("b", "b")

	_ = fg.Execute(context.Background(), func(v string) error {
		if v == "a" {
			return errTest
		}
		return nil
	})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var requests, errs int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				switch md.Name {
				case "earshot.provider.requests":
					requests += dp.Value
				case "earshot.provider.errors":
					errs += dp.Value
				}
			}
		}
	}
	if requests != 2 || errs != 1 {
		t.Errorf("requests = %d, errors = %d, want 2 and 1", requests, errs)
	}
}
