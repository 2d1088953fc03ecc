package cache

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid-redis", "redis://localhost:6379", false},
		{"valid-with-db", "redis://localhost:6379/2", false},
		{"valid-with-password", "redis://:secret@localhost:6379/0", false},
		{"wrong-scheme", "http://localhost:6379", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_UnreachableHost(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping unreachable host test in short mode")
	}

	ctx := t.Context()
	_, err := New(ctx, "redis://localhost:59999")
	if err == nil {
		t.Fatal("New() should return error for unreachable host")
	}
}

func TestJSON_UnreachableHost(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping unreachable host test in short mode")
	}

	opts, err := ParseURL("redis://localhost:59999")
	if err != nil {
		t.Fatal(err)
	}
	opts.DialTimeout = 200 * time.Millisecond
	opts.MaxRetries = -1
	c := &Cache{Client: redis.NewClient(opts)}
	defer c.Close()

	var v map[string]int
	if found, err := c.GetJSON(t.Context(), "k", &v); err == nil || found {
		t.Errorf("GetJSON() = %v, %v; want miss with error", found, err)
	}
	if err := c.SetJSON(t.Context(), "k", map[string]int{"a": 1}, time.Minute); err == nil {
		t.Error("SetJSON() should return error for unreachable host")
	}
	if err := c.Delete(t.Context()); err != nil {
		t.Errorf("Delete() with no keys error = %v", err)
	}
}
