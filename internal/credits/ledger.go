// Package credits implements the per-organization credit ledger. Consumption
// is an optimistic conditional update: the balance check and the increment
// happen in one statement, so concurrent consumers can never double-charge
// past the allocation.
package credits

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/db"
)

// ErrInsufficientCredits is returned when an organization's remaining
// allocation cannot cover the requested amount. Nothing is charged.
var ErrInsufficientCredits = errors.New("credits: insufficient credits")

// ErrUnknownOrg is returned for organizations with no ledger row.
var ErrUnknownOrg = errors.New("credits: unknown organization")

// Balance is one organization's ledger state.
type Balance struct {
	OrgID      string    `json:"org_id"`
	Allocation int64     `json:"allocation"`
	Used       int64     `json:"used"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Remaining returns the unconsumed allocation.
func (b Balance) Remaining() int64 {
	return b.Allocation - b.Used
}

// Ledger manages org credit balances on postgres.
type Ledger struct {
	pool db.Pool
}

// NewLedger creates a Ledger over the given pool.
func NewLedger(pool db.Pool) *Ledger {
	return &Ledger{pool: pool}
}

const consumeSQL = `UPDATE org_credits
SET used = used + $2, updated_at = now()
WHERE org_id = $1 AND used + $2 <= allocation`

// Consume charges n credits against the org's allocation. The conditional
// update succeeds atomically or affects zero rows; a zero-row outcome is
// disambiguated inside the same transaction so a concurrent top-up cannot be
// misread as an unknown org.
func (l *Ledger) Consume(ctx context.Context, orgID string, n int64) error {
	if n <= 0 {
		return eris.Errorf("credits: invalid amount %d", n)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "credits: begin")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, consumeSQL, orgID, n)
	if err != nil {
		return eris.Wrap(err, "credits: consume")
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM org_credits WHERE org_id = $1)`, orgID,
		).Scan(&exists); err != nil {
			return eris.Wrap(err, "credits: check org")
		}
		if !exists {
			return ErrUnknownOrg
		}
		return ErrInsufficientCredits
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "credits: commit")
	}

	zap.L().Debug("credits: consumed",
		zap.String("org", orgID),
		zap.Int64("amount", n),
	)
	return nil
}

// Refund returns n credits to the org, flooring used at zero.
func (l *Ledger) Refund(ctx context.Context, orgID string, n int64) error {
	if n <= 0 {
		return eris.Errorf("credits: invalid amount %d", n)
	}

	tag, err := l.pool.Exec(ctx,
		`UPDATE org_credits SET used = GREATEST(used - $2, 0), updated_at = now() WHERE org_id = $1`,
		orgID, n)
	if err != nil {
		return eris.Wrap(err, "credits: refund")
	}
	if tag.RowsAffected() == 0 {
		return ErrUnknownOrg
	}
	return nil
}

// Grant creates the org's ledger row or raises its allocation.
func (l *Ledger) Grant(ctx context.Context, orgID string, allocation int64) error {
	_, err := l.pool.Exec(ctx, `INSERT INTO org_credits (org_id, allocation, used, updated_at)
VALUES ($1, $2, 0, now())
ON CONFLICT (org_id) DO UPDATE SET allocation = EXCLUDED.allocation, updated_at = now()`,
		orgID, allocation)
	if err != nil {
		return eris.Wrap(err, "credits: grant")
	}
	return nil
}

// Get returns the org's current balance.
func (l *Ledger) Get(ctx context.Context, orgID string) (*Balance, error) {
	var b Balance
	err := l.pool.QueryRow(ctx,
		`SELECT org_id, allocation, used, updated_at FROM org_credits WHERE org_id = $1`,
		orgID,
	).Scan(&b.OrgID, &b.Allocation, &b.Used, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnknownOrg
		}
		return nil, eris.Wrap(err, "credits: get balance")
	}
	return &b, nil
}

// Totals sums consumption across all organizations.
func (l *Ledger) Totals(ctx context.Context) (allocation, used int64, err error) {
	err = l.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(allocation), 0), COALESCE(SUM(used), 0) FROM org_credits`,
	).Scan(&allocation, &used)
	if err != nil {
		return 0, 0, eris.Wrap(err, "credits: totals")
	}
	return allocation, used, nil
}

// Migrate creates the ledger table.
func (l *Ledger) Migrate(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS org_credits (
	org_id     TEXT PRIMARY KEY,
	allocation BIGINT NOT NULL,
	used       BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (used >= 0),
	CHECK (used <= allocation)
)`)
	if err != nil {
		return eris.Wrap(err, "credits: migrate")
	}
	return nil
}
