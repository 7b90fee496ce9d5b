package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/ridehub/seat-booking/internal/model"
)

// CreatePaymentTransaction inserts an INITIATED transaction row for a
// booking and populates the generated ID on the passed record.
func (s *Store) CreatePaymentTransaction(ctx context.Context, txn *model.PaymentTransaction) error {
	const q = `INSERT INTO payment_transactions (booking_id, transaction_id, order_ref, method, status, amount, time)
	           VALUES (?, ?, ?, ?, 'INITIATED', ?, UTC_TIMESTAMP())`
	res, err := s.db.ExecContext(ctx, q, txn.BookingID, txn.TransactionID, txn.OrderRef, txn.Method, txn.Amount.String())
	if err != nil {
		return fmt.Errorf("create payment txn: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	txn.ID = uint64(id)
	txn.Status = model.PaymentInitiated
	return nil
}

// FindTransactionByOrderRef loads the payment transaction the gateway is
// reporting on.  Returns ErrNotFound for an unknown order reference.
func (s *Store) FindTransactionByOrderRef(ctx context.Context, orderRef string) (*model.PaymentTransaction, error) {
	const q = `SELECT id, booking_id, transaction_id, order_ref, method, status, amount, gateway_note, time, created_at, updated_at
	           FROM payment_transactions WHERE order_ref = ?`
	var txn model.PaymentTransaction
	var status, amount string
	var note sql.NullString
	err := s.db.QueryRowContext(ctx, q, orderRef).Scan(
		&txn.ID, &txn.BookingID, &txn.TransactionID, &txn.OrderRef, &txn.Method,
		&status, &amount, &note, &txn.Time, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find payment txn: %w", err)
	}
	txn.Status = model.PaymentStatus(status)
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	txn.Amount = amt
	if note.Valid {
		txn.GatewayNote = note.String
	}
	return &txn, nil
}

// FindTransactionByBookingID returns the most recent payment transaction
// for a booking, or ErrNotFound when none was ever initiated.  Used by the
// recovery scan, which starts from bookings rather than webhooks.
func (s *Store) FindTransactionByBookingID(ctx context.Context, bookingID uint64) (*model.PaymentTransaction, error) {
	const q = `SELECT id, booking_id, transaction_id, order_ref, method, status, amount, gateway_note, time, created_at, updated_at
	           FROM payment_transactions WHERE booking_id = ? ORDER BY id DESC LIMIT 1`
	var txn model.PaymentTransaction
	var status, amount string
	var note sql.NullString
	err := s.db.QueryRowContext(ctx, q, bookingID).Scan(
		&txn.ID, &txn.BookingID, &txn.TransactionID, &txn.OrderRef, &txn.Method,
		&status, &amount, &note, &txn.Time, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find payment txn by booking: %w", err)
	}
	txn.Status = model.PaymentStatus(status)
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	txn.Amount = amt
	if note.Valid {
		txn.GatewayNote = note.String
	}
	return &txn, nil
}

// FailTransaction marks a payment transaction FAILED with the gateway's
// note.  Used on failure webhooks; success is stamped inside
// MarkConfirmed so booking and transaction flip together.  The INITIATED
// guard keeps a settled SUCCESS row from ever being overwritten by an
// out-of-order failure delivery.
func (s *Store) FailTransaction(ctx context.Context, txnID uint64, gatewayTxnID, note string) error {
	const q = `UPDATE payment_transactions
	           SET status = 'FAILED', transaction_id = ?, gateway_note = ?, time = UTC_TIMESTAMP(), updated_at = UTC_TIMESTAMP()
	           WHERE id = ? AND status = 'INITIATED'`
	if _, err := s.db.ExecContext(ctx, q, gatewayTxnID, note, txnID); err != nil {
		return fmt.Errorf("fail payment txn: %w", err)
	}
	return nil
}

// AttachGatewayTransactionID records the gateway-assigned transaction ID
// the first time a webhook reveals it.
func (s *Store) AttachGatewayTransactionID(ctx context.Context, txnID uint64, gatewayTxnID string) error {
	const q = `UPDATE payment_transactions SET transaction_id = ?, updated_at = UTC_TIMESTAMP() WHERE id = ? AND transaction_id = ''`
	if _, err := s.db.ExecContext(ctx, q, gatewayTxnID, txnID); err != nil {
		return fmt.Errorf("attach gateway txn id: %w", err)
	}
	return nil
}

// LogWebhook records one webhook delivery keyed by payload hash.  The
// unique index on payload_hash collapses retried deliveries: the first
// insert wins and returns fresh=true, replays return fresh=false with the
// stored row's ID.  This row, not the Redis fast path, is the source of
// truth for webhook idempotency.
func (s *Store) LogWebhook(ctx context.Context, wl *model.PaymentWebhookLog) (fresh bool, err error) {
	const q = `INSERT INTO payment_webhook_logs (provider, payload_hash, transaction_id, status, amount, raw_payload, received_at)
	           VALUES (?, ?, ?, ?, ?, ?, UTC_TIMESTAMP())`
	res, err := s.db.ExecContext(ctx, q, wl.Provider, wl.PayloadHash, wl.TransactionID, string(wl.Status), wl.Amount.String(), wl.RawPayload)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDupEntry {
			return false, nil
		}
		return false, fmt.Errorf("log webhook: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, err
	}
	wl.ID = uint64(id)
	return true, nil
}

// MarkWebhookProcessed stamps the processing time after the reconciler
// finished driving the booking transition for a delivery.
func (s *Store) MarkWebhookProcessed(ctx context.Context, webhookID uint64) error {
	const q = `UPDATE payment_webhook_logs SET processed_at = UTC_TIMESTAMP() WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, webhookID); err != nil {
		return fmt.Errorf("mark webhook processed: %w", err)
	}
	return nil
}
