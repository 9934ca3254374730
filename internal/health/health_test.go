package health

import (
	"context"
	"testing"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryAllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("db", func(_ context.Context) Status {
		return Status{Name: "db", Healthy: true}
	})
	r.Register("webhooks", func(_ context.Context) Status {
		return Status{Name: "webhooks", Healthy: true, Detail: "ok"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("all-healthy registry should report healthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
}

func TestRegistryPreservesOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"storage", "realtime", "sweeper"} {
		name := name
		r.Register(name, func(_ context.Context) Status {
			return Status{Name: name, Healthy: true}
		})
	}

	_, statuses := r.CheckAll(context.Background())
	want := []string{"storage", "realtime", "sweeper"}
	for i, name := range want {
		if statuses[i].Name != name {
			t.Fatalf("status %d: expected %q, got %q", i, name, statuses[i].Name)
		}
		if statuses[i].LatencyMS < 0 {
			t.Fatalf("status %d: negative latency", i)
		}
	}
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("db", func(_ context.Context) Status {
		return Status{Name: "db", Healthy: true}
	})
	r.Register("sweeper", func(_ context.Context) Status {
		return Status{Name: "sweeper", Healthy: false, Detail: "stalled"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with unhealthy checker should report unhealthy")
	}
	if statuses[1].Detail != "stalled" {
		t.Fatalf("expected detail 'stalled', got %q", statuses[1].Detail)
	}
}
