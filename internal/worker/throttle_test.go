package worker

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupThrottle(t *testing.T, perMinute int) (*Throttle, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewThrottle(client, perMinute), func() {
		client.Close()
		mr.Close()
	}
}

func TestThrottleAllowsUpToLimit(t *testing.T) {
	th, cleanup := setupThrottle(t, 3)
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		allowed, err := th.Allow(ctx, 7)
		if err != nil {
			t.Fatalf("Allow #%d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("send #%d should be allowed", i+1)
		}
	}

	allowed, err := th.Allow(ctx, 7)
	if err != nil {
		t.Fatalf("Allow over limit: %v", err)
	}
	if allowed {
		t.Error("fourth send in the window should be denied")
	}
}

func TestThrottleIsPerCampaign(t *testing.T) {
	th, cleanup := setupThrottle(t, 1)
	defer cleanup()

	ctx := context.Background()
	if allowed, _ := th.Allow(ctx, 1); !allowed {
		t.Fatal("first send for campaign 1 should pass")
	}
	if allowed, _ := th.Allow(ctx, 1); allowed {
		t.Error("second send for campaign 1 should be denied")
	}
	if allowed, _ := th.Allow(ctx, 2); !allowed {
		t.Error("campaign 2 has its own window")
	}
}

func TestNilThrottleAllowsEverything(t *testing.T) {
	var th *Throttle
	for i := 0; i < 100; i++ {
		allowed, err := th.Allow(context.Background(), 7)
		if err != nil || !allowed {
			t.Fatalf("nil throttle must allow: allowed=%v err=%v", allowed, err)
		}
	}
}

func TestNewThrottleDisabled(t *testing.T) {
	if NewThrottle(nil, 10) != nil {
		t.Error("nil client should disable the throttle")
	}
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	if NewThrottle(client, 0) != nil {
		t.Error("zero limit should disable the throttle")
	}
}
