package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/audira-commerce/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a unique column (order number, transaction id) collides
	ErrAlreadyExists = errors.New("already exists")
	// ErrStaleStatus is returned when a compare-and-set update finds a different stored status
	ErrStaleStatus = errors.New("stored status changed")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction.
// The pool holds a single connection, so callers must not touch the storage
// outside the returned Tx until it is committed or rolled back.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// withTx runs fn inside a transaction, rolling back on error
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	return nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// isUniqueViolation matches the constraint message both SQLite drivers produce
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Order operations

const orderColumns = `id, order_number, user_id, total_amount, status, shipping_address, created_at, updated_at`

// createOrderWithQuerier inserts the order row and its items; q must be transactional
func (s *SQLiteStorage) createOrderWithQuerier(ctx context.Context, q querier, order *types.Order) error {
	query := `
		INSERT INTO orders (order_number, user_id, total_amount, status, shipping_address, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, query,
		order.OrderNumber, order.UserID, order.TotalAmount.String(), string(order.Status),
		order.ShippingAddress, now, now)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: order number %s", ErrAlreadyExists, order.OrderNumber)
	}
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}

	itemQuery := `
		INSERT INTO order_items (order_id, position, item_type, item_id, quantity, unit_price)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for i, item := range order.Items {
		_, err := q.ExecContext(ctx, itemQuery,
			id, i, string(item.ItemType), item.ItemID, int(item.Quantity), item.UnitPrice.String())
		if err != nil {
			return fmt.Errorf("failed to insert order item %d: %w", i, err)
		}
	}

	order.ID = id
	order.CreatedAt = now
	order.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) CreateOrder(ctx context.Context, order *types.Order) error {
	return s.withTx(ctx, func(q querier) error {
		return s.createOrderWithQuerier(ctx, q, order)
	})
}

// scanOrder reads one row selected with orderColumns
func scanOrder(row interface{ Scan(dest ...any) error }) (*types.Order, error) {
	var order types.Order
	var status string
	err := row.Scan(
		&order.ID, &order.OrderNumber, &order.UserID, &order.TotalAmount, &status,
		&order.ShippingAddress, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	order.Status = types.OrderStatus(status)
	return &order, nil
}

// getOrderWithQuerier loads a single order matching column = value
func (s *SQLiteStorage) getOrderWithQuerier(ctx context.Context, q querier, column string, value interface{}) (*types.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + column + ` = ?`
	order, err := scanOrder(q.QueryRowContext(ctx, query, value))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.loadItemsWithQuerier(ctx, q, []*types.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *SQLiteStorage) GetOrder(ctx context.Context, orderID int64) (*types.Order, error) {
	return s.getOrderWithQuerier(ctx, s.querier(), "id", orderID)
}

func (s *SQLiteStorage) GetOrderByNumber(ctx context.Context, orderNumber string) (*types.Order, error) {
	return s.getOrderWithQuerier(ctx, s.querier(), "order_number", orderNumber)
}

// listOrdersWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listOrdersWithQuerier(ctx context.Context, q querier, filter OrderFilter) ([]*types.Order, error) {
	var conditions []string
	var args []interface{}
	if filter.UserID != 0 {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]*types.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// rows must be drained before the next query on a single-connection pool
	rows.Close()

	if err := s.loadItemsWithQuerier(ctx, q, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *SQLiteStorage) ListOrders(ctx context.Context, filter OrderFilter) ([]*types.Order, error) {
	return s.listOrdersWithQuerier(ctx, s.querier(), filter)
}

// loadItemsWithQuerier fills Items for every order with one IN query
func (s *SQLiteStorage) loadItemsWithQuerier(ctx context.Context, q querier, orders []*types.Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[int64]*types.Order, len(orders))
	placeholders := make([]string, len(orders))
	args := make([]interface{}, len(orders))
	for i, order := range orders {
		order.Items = make([]types.LineItem, 0)
		byID[order.ID] = order
		placeholders[i] = "?"
		args[i] = order.ID
	}

	query := `
		SELECT order_id, item_type, item_id, quantity, unit_price
		FROM order_items
		WHERE order_id IN (` + strings.Join(placeholders, ",") + `)
		ORDER BY order_id, position
	`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderID int64
		var itemType string
		var qty int
		var item types.LineItem
		if err := rows.Scan(&orderID, &itemType, &item.ItemID, &qty, &item.UnitPrice); err != nil {
			return err
		}
		item.ItemType = types.ItemType(itemType)
		item.Quantity = types.Quantity(qty)
		if order, ok := byID[orderID]; ok {
			order.Items = append(order.Items, item)
		}
	}
	return rows.Err()
}

// updateOrderStatusWithQuerier moves the order to `to` only if the stored status still equals order.Status
func (s *SQLiteStorage) updateOrderStatusWithQuerier(ctx context.Context, q querier, order *types.Order, to types.OrderStatus) error {
	query := `
		UPDATE orders
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, query, string(to), now, order.ID, string(order.Status))
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.getOrderWithQuerier(ctx, q, "id", order.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: order %d is no longer %s", ErrStaleStatus, order.ID, order.Status)
	}

	order.Status = to
	order.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpdateOrderStatus(ctx context.Context, order *types.Order, to types.OrderStatus) error {
	return s.updateOrderStatusWithQuerier(ctx, s.querier(), order, to)
}

// deleteOrderWithQuerier removes the order; items and payments cascade
func (s *SQLiteStorage) deleteOrderWithQuerier(ctx context.Context, q querier, orderID int64) error {
	result, err := q.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, orderID)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) DeleteOrder(ctx context.Context, orderID int64) error {
	return s.deleteOrderWithQuerier(ctx, s.querier(), orderID)
}

// Payment operations

const paymentColumns = `id, order_id, user_id, amount, payment_method, status, transaction_id,
	refund_transaction_id, gateway_reference, gateway_response, error_message, created_at, updated_at`

// createPaymentWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) createPaymentWithQuerier(ctx context.Context, q querier, payment *types.Payment) error {
	query := `
		INSERT INTO payments (order_id, user_id, amount, payment_method, status, transaction_id,
			refund_transaction_id, gateway_reference, gateway_response, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, query,
		payment.OrderID, payment.UserID, payment.Amount.String(), string(payment.PaymentMethod),
		string(payment.Status), payment.TransactionID, payment.RefundTransactionID,
		payment.GatewayReference, payment.GatewayResponse, payment.ErrorMessage, now, now)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: transaction id %s", ErrAlreadyExists, payment.TransactionID)
	}
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	payment.ID = id
	payment.CreatedAt = now
	payment.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) CreatePayment(ctx context.Context, payment *types.Payment) error {
	return s.createPaymentWithQuerier(ctx, s.querier(), payment)
}

// scanPayment reads one row selected with paymentColumns
func scanPayment(row interface{ Scan(dest ...any) error }) (*types.Payment, error) {
	var p types.Payment
	var method, status string
	err := row.Scan(
		&p.ID, &p.OrderID, &p.UserID, &p.Amount, &method, &status, &p.TransactionID,
		&p.RefundTransactionID, &p.GatewayReference, &p.GatewayResponse, &p.ErrorMessage,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.PaymentMethod = types.PaymentMethod(method)
	p.Status = types.PaymentStatus(status)
	return &p, nil
}

// getPaymentWithQuerier loads a single payment matching column = value
func (s *SQLiteStorage) getPaymentWithQuerier(ctx context.Context, q querier, column string, value interface{}) (*types.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE ` + column + ` = ?`
	payment, err := scanPayment(q.QueryRowContext(ctx, query, value))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *SQLiteStorage) GetPayment(ctx context.Context, paymentID int64) (*types.Payment, error) {
	return s.getPaymentWithQuerier(ctx, s.querier(), "id", paymentID)
}

func (s *SQLiteStorage) GetPaymentByTransactionID(ctx context.Context, transactionID string) (*types.Payment, error) {
	return s.getPaymentWithQuerier(ctx, s.querier(), "transaction_id", transactionID)
}

func (s *SQLiteStorage) GetPaymentByGatewayReference(ctx context.Context, reference string) (*types.Payment, error) {
	if reference == "" {
		return nil, ErrNotFound
	}
	return s.getPaymentWithQuerier(ctx, s.querier(), "gateway_reference", reference)
}

// listPaymentsWithQuerier returns matching payments oldest first
func (s *SQLiteStorage) listPaymentsWithQuerier(ctx context.Context, q querier, filter PaymentFilter) ([]*types.Payment, error) {
	var conditions []string
	var args []interface{}
	if filter.OrderID != 0 {
		conditions = append(conditions, "order_id = ?")
		args = append(args, filter.OrderID)
	}
	if filter.UserID != 0 {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + paymentColumns + ` FROM payments`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at, id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	payments := make([]*types.Payment, 0)
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	return payments, rows.Err()
}

func (s *SQLiteStorage) ListPayments(ctx context.Context, filter PaymentFilter) ([]*types.Payment, error) {
	return s.listPaymentsWithQuerier(ctx, s.querier(), filter)
}

// updatePaymentWithQuerier writes every mutable payment column if the stored status still equals expected
func (s *SQLiteStorage) updatePaymentWithQuerier(ctx context.Context, q querier, payment *types.Payment, expected types.PaymentStatus) error {
	query := `
		UPDATE payments
		SET status = ?, transaction_id = ?, refund_transaction_id = ?, gateway_reference = ?,
		    gateway_response = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, query,
		string(payment.Status), payment.TransactionID, payment.RefundTransactionID,
		payment.GatewayReference, payment.GatewayResponse, payment.ErrorMessage, now,
		payment.ID, string(expected))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	}
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.getPaymentWithQuerier(ctx, q, "id", payment.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: payment %d is no longer %s", ErrStaleStatus, payment.ID, expected)
	}

	payment.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpdatePayment(ctx context.Context, payment *types.Payment, expected types.PaymentStatus) error {
	return s.updatePaymentWithQuerier(ctx, s.querier(), payment, expected)
}

// Status operations

// getStatusWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getStatusWithQuerier(ctx context.Context, q querier) (*StoreStatus, error) {
	status := &StoreStatus{
		OrdersByStatus:   make(map[types.OrderStatus]int),
		PaymentsByStatus: make(map[types.PaymentStatus]int),
	}

	// Count orders per status
	rows, err := q.QueryContext(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			rows.Close()
			return nil, err
		}
		status.OrdersByStatus[types.OrderStatus(st)] = n
		status.TotalOrders += n
	}
	rows.Close()

	// Count payments per status
	rows, err = q.QueryContext(ctx, `SELECT status, COUNT(*) FROM payments GROUP BY status`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			rows.Close()
			return nil, err
		}
		status.PaymentsByStatus[types.PaymentStatus(st)] = n
		status.TotalPayments += n
	}
	rows.Close()

	_ = q.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY applied_at DESC, rowid DESC LIMIT 1").Scan(&status.SchemaVersion)

	// Calculate database size
	var pageCount, pageSize int
	err = q.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	if err == nil {
		_ = q.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	var foreignKeys int
	_ = q.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&foreignKeys)

	status.Health = HealthStatus{
		DatabaseAccessible: true,
		ForeignKeysEnabled: foreignKeys == 1,
	}
	return status, nil
}

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*StoreStatus, error) {
	return s.getStatusWithQuerier(ctx, s.querier())
}

// Transaction implementations - every call goes through the tx querier

func (t *sqliteTx) CreateOrder(ctx context.Context, order *types.Order) error {
	return t.storage.createOrderWithQuerier(ctx, t.querier(), order)
}

func (t *sqliteTx) GetOrder(ctx context.Context, orderID int64) (*types.Order, error) {
	return t.storage.getOrderWithQuerier(ctx, t.querier(), "id", orderID)
}

func (t *sqliteTx) GetOrderByNumber(ctx context.Context, orderNumber string) (*types.Order, error) {
	return t.storage.getOrderWithQuerier(ctx, t.querier(), "order_number", orderNumber)
}

func (t *sqliteTx) ListOrders(ctx context.Context, filter OrderFilter) ([]*types.Order, error) {
	return t.storage.listOrdersWithQuerier(ctx, t.querier(), filter)
}

func (t *sqliteTx) UpdateOrderStatus(ctx context.Context, order *types.Order, to types.OrderStatus) error {
	return t.storage.updateOrderStatusWithQuerier(ctx, t.querier(), order, to)
}

func (t *sqliteTx) DeleteOrder(ctx context.Context, orderID int64) error {
	return t.storage.deleteOrderWithQuerier(ctx, t.querier(), orderID)
}

func (t *sqliteTx) CreatePayment(ctx context.Context, payment *types.Payment) error {
	return t.storage.createPaymentWithQuerier(ctx, t.querier(), payment)
}

func (t *sqliteTx) GetPayment(ctx context.Context, paymentID int64) (*types.Payment, error) {
	return t.storage.getPaymentWithQuerier(ctx, t.querier(), "id", paymentID)
}

func (t *sqliteTx) GetPaymentByTransactionID(ctx context.Context, transactionID string) (*types.Payment, error) {
	return t.storage.getPaymentWithQuerier(ctx, t.querier(), "transaction_id", transactionID)
}

func (t *sqliteTx) GetPaymentByGatewayReference(ctx context.Context, reference string) (*types.Payment, error) {
	if reference == "" {
		return nil, ErrNotFound
	}
	return t.storage.getPaymentWithQuerier(ctx, t.querier(), "gateway_reference", reference)
}

func (t *sqliteTx) ListPayments(ctx context.Context, filter PaymentFilter) ([]*types.Payment, error) {
	return t.storage.listPaymentsWithQuerier(ctx, t.querier(), filter)
}

func (t *sqliteTx) UpdatePayment(ctx context.Context, payment *types.Payment, expected types.PaymentStatus) error {
	return t.storage.updatePaymentWithQuerier(ctx, t.querier(), payment, expected)
}

func (t *sqliteTx) GetStatus(ctx context.Context) (*StoreStatus, error) {
	return t.storage.getStatusWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite does not support true nested transactions
	return nil, errors.New("nested transactions not supported")
}

// compile-time interface checks
var (
	_ Storage = (*SQLiteStorage)(nil)
	_ Tx      = (*sqliteTx)(nil)
)
