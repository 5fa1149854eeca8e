package pgstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/keithlinneman/dentalacademy/internal/store"
	"github.com/keithlinneman/dentalacademy/internal/store/storetest"
)

func TestStore(t *testing.T) {
	dsn := os.Getenv("DA_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("DA_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s, err := New(ctx, dsn, Options{MaxConns: 4})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	// a second run must be a no-op
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		if _, err := s.pool.Exec(context.Background(),
			`TRUNCATE enrollments, lessons, orders, courses, users`); err != nil {
			t.Fatal(err)
		}
		return s
	})
}
