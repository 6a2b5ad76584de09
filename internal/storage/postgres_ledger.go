package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/wash-hup/internal/models"
)

const paymentColumns = `id, wash_id, client_id, washer_id, reference, amount, currency, provider,
	status, authorization_url, created_at, updated_at`

func scanPayment(row scanner) (*models.Payment, error) {
	var (
		p      models.Payment
		status string
	)
	if err := row.Scan(&p.ID, &p.WashID, &p.ClientID, &p.WasherID, &p.Reference, &p.Amount, &p.Currency,
		&p.Provider, &status, &p.AuthorizationURL, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Status = models.PaymentStatus(status)
	return &p, nil
}

func (r pgRepo) CreatePayment(ctx context.Context, p *models.Payment) error {
	_, err := r.exec(ctx, "payment", `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.WashID, p.ClientID, p.WasherID, p.Reference, p.Amount, p.Currency, p.Provider,
		string(p.Status), p.AuthorizationURL, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r pgRepo) GetPaymentByReference(ctx context.Context, ref string) (*models.Payment, error) {
	p, err := scanPayment(r.q.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE reference = $1`, ref))
	if err != nil {
		return nil, r.mapErr(err, "payment")
	}
	return p, nil
}

func (r pgRepo) LockPaymentByReference(ctx context.Context, ref string) (*models.Payment, error) {
	p, err := scanPayment(r.q.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE reference = $1 FOR UPDATE`, ref))
	if err != nil {
		return nil, r.mapErr(err, "payment")
	}
	return p, nil
}

func (r pgRepo) UpdatePaymentStatus(ctx context.Context, id string, status models.PaymentStatus) error {
	return r.execOne(ctx, "payment",
		`UPDATE payments SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
}

func (r pgRepo) ListPaymentsByWash(ctx context.Context, washID string) ([]models.Payment, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE wash_id = $1 ORDER BY created_at DESC`, washID)
	if err != nil {
		return nil, r.mapErr(err, "payment")
	}
	defer rows.Close()
	var out []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, r.mapErr(err, "payment")
		}
		out = append(out, *p)
	}
	return out, r.mapErr(rows.Err(), "payment")
}

func (r pgRepo) ExpirePendingPayments(ctx context.Context, before time.Time) (int64, error) {
	return r.exec(ctx, "payment", `
		UPDATE payments SET status = 'failed', updated_at = now()
		WHERE status = 'pending' AND created_at < $1`, before)
}

func (r pgRepo) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	_, err := r.exec(ctx, "transaction", `
		INSERT INTO transactions (id, payment_id, wash_id, washer_id, reference, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.PaymentID, t.WashID, t.WasherID, t.Reference, t.Amount, t.CreatedAt)
	return err
}

func (r pgRepo) CreateRemittance(ctx context.Context, rm *models.Remittance) error {
	_, err := r.exec(ctx, "remittance", `
		INSERT INTO remittances (id, payment_id, wash_id, washer_id, reference, gross, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rm.ID, rm.PaymentID, rm.WashID, rm.WasherID, rm.Reference, rm.Gross, rm.Amount, rm.CreatedAt)
	return err
}

func (r pgRepo) ListTransactions(ctx context.Context, washerID string, page models.Page) ([]models.Transaction, error) {
	page = page.Normalize()
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, payment_id, wash_id, washer_id, reference, amount, created_at
		FROM transactions WHERE washer_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, washerID, page.Limit, page.Skip)
	if err != nil {
		return nil, r.mapErr(err, "transaction")
	}
	defer rows.Close()
	var out []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.PaymentID, &t.WashID, &t.WasherID, &t.Reference, &t.Amount, &t.CreatedAt); err != nil {
			return nil, r.mapErr(err, "transaction")
		}
		out = append(out, t)
	}
	return out, r.mapErr(rows.Err(), "transaction")
}

func (r pgRepo) ListRemittances(ctx context.Context, washerID string, page models.Page) ([]models.Remittance, error) {
	page = page.Normalize()
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, payment_id, wash_id, washer_id, reference, gross, amount, created_at
		FROM remittances WHERE washer_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, washerID, page.Limit, page.Skip)
	if err != nil {
		return nil, r.mapErr(err, "remittance")
	}
	defer rows.Close()
	var out []models.Remittance
	for rows.Next() {
		var rm models.Remittance
		if err := rows.Scan(&rm.ID, &rm.PaymentID, &rm.WashID, &rm.WasherID, &rm.Reference, &rm.Gross, &rm.Amount, &rm.CreatedAt); err != nil {
			return nil, r.mapErr(err, "remittance")
		}
		out = append(out, rm)
	}
	return out, r.mapErr(rows.Err(), "remittance")
}

func (r pgRepo) CreateWallet(ctx context.Context, w *models.Wallet) error {
	_, err := r.exec(ctx, "wallet", `
		INSERT INTO wallets (washer_id, balance, subaccount_code, updated_at)
		VALUES ($1, $2, $3, $4)`,
		w.WasherID, w.Balance, w.SubaccountCode, w.UpdatedAt)
	return err
}

func (r pgRepo) getWallet(ctx context.Context, washerID, suffix string) (*models.Wallet, error) {
	var w models.Wallet
	err := r.q.QueryRowContext(ctx,
		`SELECT washer_id, balance, subaccount_code, updated_at FROM wallets WHERE washer_id = $1`+suffix, washerID).
		Scan(&w.WasherID, &w.Balance, &w.SubaccountCode, &w.UpdatedAt)
	if err != nil {
		return nil, r.mapErr(err, "wallet")
	}
	return &w, nil
}

func (r pgRepo) GetWallet(ctx context.Context, washerID string) (*models.Wallet, error) {
	return r.getWallet(ctx, washerID, "")
}

func (r pgRepo) LockWallet(ctx context.Context, washerID string) (*models.Wallet, error) {
	return r.getWallet(ctx, washerID, " FOR UPDATE")
}

func (r pgRepo) CreditWallet(ctx context.Context, washerID string, amount decimal.Decimal) error {
	return r.execOne(ctx, "wallet",
		`UPDATE wallets SET balance = balance + $2, updated_at = now() WHERE washer_id = $1`, washerID, amount)
}

func (r pgRepo) LatestPriceBands(ctx context.Context) ([]models.PriceBand, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT DISTINCT ON (wash_type) wash_type, min_price, max_price, created_at
		FROM price_bands ORDER BY wash_type, created_at DESC, id DESC`)
	if err != nil {
		return nil, r.mapErr(err, "price")
	}
	defer rows.Close()
	var out []models.PriceBand
	for rows.Next() {
		var (
			b        models.PriceBand
			washType string
		)
		if err := rows.Scan(&washType, &b.Min, &b.Max, &b.CreatedAt); err != nil {
			return nil, r.mapErr(err, "price")
		}
		b.WashType = models.WashType(washType)
		out = append(out, b)
	}
	return out, r.mapErr(rows.Err(), "price")
}

func (r pgRepo) CreatePriceBand(ctx context.Context, b *models.PriceBand) error {
	_, err := r.exec(ctx, "price", `
		INSERT INTO price_bands (wash_type, min_price, max_price, created_at) VALUES ($1, $2, $3, $4)`,
		string(b.WashType), b.Min, b.Max, b.CreatedAt)
	return err
}
