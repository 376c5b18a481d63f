package ledger

import "errors"

var (
	ErrNotFound           = errors.New("ledger: not found")
	ErrInsufficientFunds  = errors.New("ledger: insufficient funds")
	ErrInsufficientShares = errors.New("ledger: insufficient shares")
	ErrOwnershipLimit     = errors.New("ledger: ownership limit reached")
	ErrSharesLocked       = errors.New("ledger: shares are still locked")
	ErrSelfTrade          = errors.New("ledger: cannot trade your own stock")
	ErrOptedOut           = errors.New("ledger: security has opted out")
	ErrInvalidQuantity    = errors.New("ledger: quantity must be positive")
	ErrAlreadyClaimed     = errors.New("ledger: daily bonus already claimed")
	ErrFundNameTaken      = errors.New("ledger: fund name already taken")
	ErrFundNotFound       = errors.New("ledger: fund not found")
	ErrNotFundMember      = errors.New("ledger: not a member of this fund")
	ErrTxConflict         = errors.New("ledger: transaction conflict, retry later")
)
