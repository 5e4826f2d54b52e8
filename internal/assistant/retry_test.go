package assistant

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestRetryableError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "rate limit", err: errors.New("googleai: rate limit exceeded"), want: true},
		{name: "quota", err: errors.New("Quota Exceeded for project"), want: true},
		{name: "http 429", err: errors.New("unexpected status 429"), want: true},
		{name: "http 503", err: errors.New("503 Service Unavailable"), want: true},
		{name: "timeout", err: fmt.Errorf("call model: %w", errors.New("context deadline: timeout")), want: true},
		{name: "connection reset", err: errors.New("read: connection reset by peer"), want: true},
		{name: "invalid request", err: errors.New("invalid argument: unknown model"), want: false},
		{name: "auth failure", err: errors.New("401 unauthorized"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := retryableError(tt.err); got != tt.want {
				t.Errorf("retryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestContainsAny(t *testing.T) {
	t.Parallel()

	if !containsAny("RATE LIMIT hit", "rate limit") {
		t.Error("matching should be case-insensitive")
	}
	if containsAny("all good", "rate limit", "quota") {
		t.Error("no substring should match")
	}
}

func TestIdentityContext(t *testing.T) {
	t.Parallel()

	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Error("empty context should carry no identity")
	}

	id := Identity{UserID: "user-1", Name: "Trail Blazer", IDToken: "tok"}
	ctx := ContextWithIdentity(context.Background(), id)

	got, ok := IdentityFromContext(ctx)
	if !ok {
		t.Fatal("identity not found after ContextWithIdentity")
	}
	if got != id {
		t.Errorf("IdentityFromContext = %+v, want %+v", got, id)
	}
}
