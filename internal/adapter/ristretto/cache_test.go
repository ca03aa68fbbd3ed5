package ristretto

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/ModGuard/internal/port/cache/cachetest"
)

func TestCacheCompliance(t *testing.T) {
	c, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	cachetest.Run(t, c, c.Wait)
}

func TestNewRejectsZeroSize(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Fatal("expected error for zero size")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	c, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	buf := []byte("abc")
	_ = c.Set(ctx, "k", buf, time.Minute)
	c.Wait()
	buf[0] = 'x'

	got, ok, _ := c.Get(ctx, "k")
	if !ok || string(got) != "abc" {
		t.Fatalf("expected abc, got %q (ok=%v)", got, ok)
	}
	got[1] = 'y'
	again, _, _ := c.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("stored value was mutated: %q", again)
	}
}
