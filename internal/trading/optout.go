package trading

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/0oeaaeo/discord-stocks-bot/internal/ledger"
)

var (
	ErrNoPendingOptOut  = errors.New("trading: no pending opt-out request")
	ErrOptOutTokenWrong = errors.New("trading: opt-out token does not match")
	ErrOptOutExpired    = errors.New("trading: opt-out confirmation window expired")
)

type pendingOptOut struct {
	token   string
	expires time.Time
}

// OptOutDesk runs the two-step market withdrawal: a request issues a short
// lived token, and confirming with that token flags the member irrevocably.
// Pending requests live in memory only; a restart simply voids them.
type OptOutDesk struct {
	store  *ledger.Store
	window time.Duration

	mu      sync.Mutex
	pending map[int64]pendingOptOut
	now     func() time.Time
}

func NewOptOutDesk(store *ledger.Store, window time.Duration) *OptOutDesk {
	return &OptOutDesk{
		store:   store,
		window:  window,
		pending: make(map[int64]pendingOptOut),
		now:     time.Now,
	}
}

// Request issues a confirmation token valid for the desk's window. A repeat
// request replaces the previous token.
func (d *OptOutDesk) Request(userID int64) (token string, expires time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := pendingOptOut{token: uuid.NewString(), expires: d.now().Add(d.window)}
	d.pending[userID] = p
	return p.token, p.expires
}

// Confirm validates the token and withdraws the member from the market.
func (d *OptOutDesk) Confirm(ctx context.Context, userID int64, token string) error {
	d.mu.Lock()
	p, ok := d.pending[userID]
	if ok {
		delete(d.pending, userID)
	}
	now := d.now()
	d.mu.Unlock()

	if !ok {
		return ErrNoPendingOptOut
	}
	if now.After(p.expires) {
		return ErrOptOutExpired
	}
	if p.token != token {
		return ErrOptOutTokenWrong
	}
	return d.store.MarkOptedOut(ctx, userID)
}
