package postgres

import (
	"context"
	"database/sql"

	"github.com/sheikh-saqib/backoffice-ledger/internal/models"
	"github.com/sheikh-saqib/backoffice-ledger/internal/xerrors"
)

const ipoColumns = `id, name, issue_size, price_per_share, settlement_account_id, status, created_at, allotted_at`

func (p *Store) CreateIPO(ctx context.Context, ipo models.IPO) error {
	const query = `INSERT INTO ipos (` + ipoColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err := p.db.ExecContext(ctx, query, ipo.ID, ipo.Name, ipo.IssueSize, ipo.PricePerShare,
		ipo.SettlementAccountID, ipo.Status, ipo.CreatedAt, nullTime(ipo.AllottedAt))
	if isUniqueViolation(err) {
		return xerrors.ErrConflict
	}
	return err
}

func (p *Store) GetIPO(ctx context.Context, ipoId string) (models.IPO, error) {
	const query = `SELECT ` + ipoColumns + ` FROM ipos WHERE id = $1`

	var (
		ipo        models.IPO
		allottedAt sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, query, ipoId).Scan(&ipo.ID, &ipo.Name, &ipo.IssueSize, &ipo.PricePerShare,
		&ipo.SettlementAccountID, &ipo.Status, &ipo.CreatedAt, &allottedAt)
	if err == sql.ErrNoRows {
		return models.IPO{}, xerrors.ErrIPONotFound
	}
	if err != nil {
		return models.IPO{}, err
	}
	ipo.CreatedAt = ipo.CreatedAt.UTC()
	ipo.AllottedAt = timePtr(allottedAt)
	return ipo, nil
}

func (p *Store) SaveIPO(ctx context.Context, ipo models.IPO) error {
	res, err := p.db.ExecContext(ctx, `UPDATE ipos SET status = $2, allotted_at = $3 WHERE id = $1`,
		ipo.ID, ipo.Status, nullTime(ipo.AllottedAt))
	if err != nil {
		return err
	}
	return expectOne(res, xerrors.ErrIPONotFound)
}

const applicationColumns = `id, ipo_id, customer_id, account_id, quantity, amount, status, shares_allotted,
	amount_settled, sequence, submitted_at, verified_by, comments`

func scanApplication(row scanner) (models.IPOApplication, error) {
	var a models.IPOApplication
	err := row.Scan(&a.ID, &a.IPOID, &a.CustomerID, &a.AccountID, &a.Quantity, &a.Amount, &a.Status,
		&a.SharesAllotted, &a.AmountSettled, &a.Sequence, &a.SubmittedAt, &a.VerifiedBy, &a.Comments)
	a.SubmittedAt = a.SubmittedAt.UTC()
	return a, err
}

// CreateApplication takes a row lock on the IPO so concurrent applicants get
// distinct, gap-free sequence numbers.
func (p *Store) CreateApplication(ctx context.Context, app models.IPOApplication) (models.IPOApplication, error) {
	err := p.withTx(ctx, func(dbTx *sql.Tx) error {
		var id string
		err := dbTx.QueryRowContext(ctx, `SELECT id FROM ipos WHERE id = $1 FOR UPDATE`, app.IPOID).Scan(&id)
		if err == sql.ErrNoRows {
			return xerrors.ErrIPONotFound
		}
		if err != nil {
			return err
		}

		err = dbTx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) + 1 FROM ipo_applications WHERE ipo_id = $1`, app.IPOID).
			Scan(&app.Sequence)
		if err != nil {
			return err
		}

		const query = `INSERT INTO ipo_applications (` + applicationColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
		_, err = dbTx.ExecContext(ctx, query, app.ID, app.IPOID, app.CustomerID, app.AccountID, app.Quantity,
			app.Amount, app.Status, app.SharesAllotted, app.AmountSettled, app.Sequence, app.SubmittedAt,
			app.VerifiedBy, app.Comments)
		if isUniqueViolation(err) {
			return xerrors.ErrConflict
		}
		return err
	})
	if err != nil {
		return models.IPOApplication{}, err
	}
	return app, nil
}

func (p *Store) GetApplication(ctx context.Context, applicationId string) (models.IPOApplication, error) {
	const query = `SELECT ` + applicationColumns + ` FROM ipo_applications WHERE id = $1`

	app, err := scanApplication(p.db.QueryRowContext(ctx, query, applicationId))
	if err == sql.ErrNoRows {
		return models.IPOApplication{}, xerrors.ErrApplicationNotFound
	}
	return app, err
}

func (p *Store) SaveApplication(ctx context.Context, app models.IPOApplication) error {
	return p.saveApplication(ctx, p.db, app)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (p *Store) saveApplication(ctx context.Context, db execer, app models.IPOApplication) error {
	const query = `UPDATE ipo_applications
	SET status = $2, shares_allotted = $3, amount_settled = $4, verified_by = $5, comments = $6
	WHERE id = $1`

	res, err := db.ExecContext(ctx, query, app.ID, app.Status, app.SharesAllotted, app.AmountSettled,
		app.VerifiedBy, app.Comments)
	if err != nil {
		return err
	}
	return expectOne(res, xerrors.ErrApplicationNotFound)
}

// ListApplications returns the applications in submission order.
func (p *Store) ListApplications(ctx context.Context, ipoId string) ([]models.IPOApplication, error) {
	const query = `SELECT ` + applicationColumns + ` FROM ipo_applications WHERE ipo_id = $1 ORDER BY sequence`

	rows, err := p.db.QueryContext(ctx, query, ipoId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []models.IPOApplication
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

func (p *Store) CompleteAllotment(ctx context.Context, ipo models.IPO, apps []models.IPOApplication, summary models.AllotmentSummary) error {
	return p.withTx(ctx, func(dbTx *sql.Tx) error {
		res, err := dbTx.ExecContext(ctx, `UPDATE ipos SET status = $2, allotted_at = $3 WHERE id = $1`,
			ipo.ID, ipo.Status, nullTime(ipo.AllottedAt))
		if err != nil {
			return err
		}
		if err := expectOne(res, xerrors.ErrIPONotFound); err != nil {
			return err
		}

		for _, a := range apps {
			if err := p.saveApplication(ctx, dbTx, a); err != nil {
				return err
			}
		}

		const query = `INSERT INTO allotment_summaries
		(ipo_id, total_applications, total_allotted, total_shares_allotted, total_amount_settled, computed_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (ipo_id) DO UPDATE SET
			total_applications = EXCLUDED.total_applications,
			total_allotted = EXCLUDED.total_allotted,
			total_shares_allotted = EXCLUDED.total_shares_allotted,
			total_amount_settled = EXCLUDED.total_amount_settled,
			computed_at = EXCLUDED.computed_at`
		_, err = dbTx.ExecContext(ctx, query, summary.IPOID, summary.TotalApplications, summary.TotalAllotted,
			summary.TotalSharesAllotted, summary.TotalAmountSettled, summary.ComputedAt)
		return err
	})
}

func (p *Store) GetSummary(ctx context.Context, ipoId string) (models.AllotmentSummary, error) {
	const query = `SELECT ipo_id, total_applications, total_allotted, total_shares_allotted, total_amount_settled, computed_at
	FROM allotment_summaries WHERE ipo_id = $1`

	var s models.AllotmentSummary
	err := p.db.QueryRowContext(ctx, query, ipoId).Scan(&s.IPOID, &s.TotalApplications, &s.TotalAllotted,
		&s.TotalSharesAllotted, &s.TotalAmountSettled, &s.ComputedAt)
	if err == sql.ErrNoRows {
		return models.AllotmentSummary{}, xerrors.ErrNotFound
	}
	s.ComputedAt = s.ComputedAt.UTC()
	return s, err
}
