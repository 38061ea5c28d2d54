package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgxmock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestPgCounter_Increment(t *testing.T) {
	mock := newMock(t)
	c := NewPgCounter(mock)

	mock.ExpectQuery("INSERT INTO rate_limits AS rl").
		WithArgs("/api/chat/asturian-u1", float64(10000)).
		WillReturnRows(pgxmock.NewRows([]string{"count", "reset_ms"}).AddRow(int64(3), int64(7500)))

	w, err := c.IncrementWithTTL(context.Background(), "/api/chat/asturian-u1", 10*time.Second)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if w.Count != 3 || w.ResetIn != 7500*time.Millisecond {
		t.Fatalf("unexpected window %+v", w)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPgCounter_DeniedThroughLimiter(t *testing.T) {
	mock := newMock(t)
	l := New(NewPgCounter(mock), 2, 10*time.Second)

	mock.ExpectQuery("INSERT INTO rate_limits").
		WithArgs("id", float64(10000)).
		WillReturnRows(pgxmock.NewRows([]string{"count", "reset_ms"}).AddRow(int64(3), int64(2000)))

	res, err := l.Check(context.Background(), "id")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Allowed || res.RetryAfter != 2*time.Second {
		t.Fatalf("expected denial with 2s retry, got %+v", res)
	}
}

func TestPgCounter_Error(t *testing.T) {
	mock := newMock(t)
	c := NewPgCounter(mock, WithTable("limits"))

	mock.ExpectQuery(`INSERT INTO "limits"`).
		WithArgs("id", float64(1000)).
		WillReturnError(errors.New("connection refused"))

	if _, err := c.IncrementWithTTL(context.Background(), "id", time.Second); err == nil {
		t.Fatal("expected error")
	}
}

func TestPgCounter_Prune(t *testing.T) {
	mock := newMock(t)
	c := NewPgCounter(mock)

	mock.ExpectExec("DELETE FROM rate_limits WHERE expires_at <= now()").
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := c.Prune(context.Background())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 pruned rows, got %d", n)
	}
}

func TestPgCounter_EnsureSchema(t *testing.T) {
	mock := newMock(t)
	c := NewPgCounter(mock)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS rate_limits").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	if err := c.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
}
