package trading

import (
	"context"
	"testing"
	"time"
)

func newTestDesk(window time.Duration) (*OptOutDesk, *time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d := NewOptOutDesk(nil, window)
	d.now = func() time.Time { return now }
	return d, &now
}

func TestOptOutTokenMismatch(t *testing.T) {
	d, _ := newTestDesk(30 * time.Second)
	d.Request(1)
	err := d.Confirm(context.Background(), 1, "not-the-token")
	if err != ErrOptOutTokenWrong {
		t.Fatalf("err = %v, want ErrOptOutTokenWrong", err)
	}
}

func TestOptOutWindowExpires(t *testing.T) {
	d, now := newTestDesk(30 * time.Second)
	token, _ := d.Request(1)
	*now = now.Add(31 * time.Second)
	err := d.Confirm(context.Background(), 1, token)
	if err != ErrOptOutExpired {
		t.Fatalf("err = %v, want ErrOptOutExpired", err)
	}
}

func TestOptOutNoPending(t *testing.T) {
	d, _ := newTestDesk(30 * time.Second)
	if err := d.Confirm(context.Background(), 1, "anything"); err != ErrNoPendingOptOut {
		t.Fatalf("err = %v, want ErrNoPendingOptOut", err)
	}
}

func TestOptOutTokenConsumedOnFailure(t *testing.T) {
	d, _ := newTestDesk(30 * time.Second)
	token, _ := d.Request(1)
	if err := d.Confirm(context.Background(), 1, "wrong"); err != ErrOptOutTokenWrong {
		t.Fatalf("first confirm err = %v", err)
	}
	if err := d.Confirm(context.Background(), 1, token); err != ErrNoPendingOptOut {
		t.Fatalf("second confirm err = %v, want ErrNoPendingOptOut", err)
	}
}
