// Package fund manages pooled hedge funds: creation, member deposits and
// proportional ownership accounting.
package fund

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/0oeaaeo/discord-stocks-bot/internal/ledger"
)

type Manager struct {
	store       *ledger.Store
	creationFee int64
	log         *slog.Logger
}

func NewManager(store *ledger.Store, creationFee int64, logger *slog.Logger) *Manager {
	return &Manager{store: store, creationFee: creationFee, log: logger}
}

// Create opens a new fund, charging the founder the creation fee. The fee
// seeds the treasury and the founder starts at 100% ownership.
func (m *Manager) Create(ctx context.Context, founderID int64, name string) (ledger.HedgeFund, error) {
	if name == "" || len(name) > 32 {
		return ledger.HedgeFund{}, fmt.Errorf("fund: name must be 1-32 characters")
	}
	var f ledger.HedgeFund
	err := m.store.Serialized(ctx, func(tx pgx.Tx) error {
		wallet, err := ledger.WalletTx(ctx, tx, founderID)
		if err != nil {
			return err
		}
		if wallet.Balance < m.creationFee {
			return ledger.ErrInsufficientFunds
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO hedge_funds (name, founder_id, treasury_cents)
			VALUES ($1, $2, $3)
			RETURNING id, name, founder_id, treasury_cents, created_at`,
			name, founderID, m.creationFee).
			Scan(&f.ID, &f.Name, &f.FounderID, &f.Treasury, &f.CreatedAt)
		if isUniqueViolation(err) {
			return ledger.ErrFundNameTaken
		}
		if err != nil {
			return fmt.Errorf("insert fund: %w", err)
		}
		if err := ledger.AddBalanceTx(ctx, tx, founderID, -m.creationFee); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO hedge_fund_members (fund_id, user_id, role, contribution, share_pct)
			VALUES ($1, $2, 'founder', $3, 100)`,
			f.ID, founderID, m.creationFee)
		if err != nil {
			return fmt.Errorf("insert founder: %w", err)
		}
		return nil
	})
	if err != nil {
		return ledger.HedgeFund{}, err
	}
	m.log.Info("fund created",
		slog.Int64("fund_id", f.ID),
		slog.String("name", f.Name),
		slog.Int64("founder", founderID))
	return f, nil
}

// Deposit moves cash from a member's wallet into the fund treasury and
// recomputes every member's ownership share from contributions. First-time
// depositors join as members.
func (m *Manager) Deposit(ctx context.Context, fundID, userID, amount int64) (ledger.HedgeFund, error) {
	if amount <= 0 {
		return ledger.HedgeFund{}, ledger.ErrInvalidQuantity
	}
	var f ledger.HedgeFund
	err := m.store.Serialized(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT id, name, founder_id, treasury_cents, created_at
			FROM hedge_funds WHERE id = $1 FOR UPDATE`,
			fundID).Scan(&f.ID, &f.Name, &f.FounderID, &f.Treasury, &f.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.ErrFundNotFound
		}
		if err != nil {
			return fmt.Errorf("lock fund: %w", err)
		}
		wallet, err := ledger.WalletTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if wallet.Balance < amount {
			return ledger.ErrInsufficientFunds
		}
		if err := ledger.AddBalanceTx(ctx, tx, userID, -amount); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO hedge_fund_members (fund_id, user_id, role, contribution, share_pct)
			VALUES ($1, $2, 'member', $3, 0)
			ON CONFLICT (fund_id, user_id) DO UPDATE
			SET contribution = hedge_fund_members.contribution + $3`,
			fundID, userID, amount)
		if err != nil {
			return fmt.Errorf("upsert member: %w", err)
		}
		err = tx.QueryRow(ctx, `
			UPDATE hedge_funds SET treasury_cents = treasury_cents + $2
			WHERE id = $1
			RETURNING treasury_cents`,
			fundID, amount).Scan(&f.Treasury)
		if err != nil {
			return fmt.Errorf("grow treasury: %w", err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE hedge_fund_members m
			SET share_pct = 100.0 * m.contribution / t.total
			FROM (SELECT SUM(contribution)::float AS total
			      FROM hedge_fund_members WHERE fund_id = $1) t
			WHERE m.fund_id = $1 AND t.total > 0`,
			fundID)
		if err != nil {
			return fmt.Errorf("recompute shares: %w", err)
		}
		return nil
	})
	if err != nil {
		return ledger.HedgeFund{}, err
	}
	m.log.Info("fund deposit",
		slog.Int64("fund_id", fundID),
		slog.Int64("user", userID),
		slog.Int64("amount_cents", amount))
	return f, nil
}

// ByName resolves a fund by its unique name.
func (m *Manager) ByName(ctx context.Context, name string) (ledger.HedgeFund, error) {
	var f ledger.HedgeFund
	err := m.store.Pool().QueryRow(ctx, `
		SELECT id, name, founder_id, treasury_cents, created_at
		FROM hedge_funds WHERE name = $1`,
		name).Scan(&f.ID, &f.Name, &f.FounderID, &f.Treasury, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.HedgeFund{}, ledger.ErrFundNotFound
	}
	if err != nil {
		return ledger.HedgeFund{}, fmt.Errorf("fund by name: %w", err)
	}
	return f, nil
}

// Members lists a fund's membership with contributions and ownership.
func (m *Manager) Members(ctx context.Context, fundID int64) ([]ledger.FundMember, error) {
	rows, err := m.store.Pool().Query(ctx, `
		SELECT fm.fund_id, fm.user_id, u.username, u.display_name,
		       fm.role, fm.contribution, fm.share_pct
		FROM hedge_fund_members fm
		JOIN users u ON u.user_id = fm.user_id
		WHERE fm.fund_id = $1
		ORDER BY fm.contribution DESC`,
		fundID)
	if err != nil {
		return nil, fmt.Errorf("fund members: %w", err)
	}
	defer rows.Close()
	var out []ledger.FundMember
	for rows.Next() {
		var fm ledger.FundMember
		if err := rows.Scan(&fm.FundID, &fm.UserID, &fm.Username, &fm.DisplayName,
			&fm.Role, &fm.Contribution, &fm.SharePct); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, fm)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
