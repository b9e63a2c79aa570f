// Package storage provides SQLite-based persistence for orders and payments.
//
// The storage layer manages:
//   - Orders and their line item snapshots
//   - Payments and their gateway correlation
//   - Schema versioning and migrations
//
// # Database Schema
//
// Tables:
//   - orders: order header (order number, owner, total, status, address)
//   - order_items: line items in original order, cascaded with the order
//   - payments: payment attempts, cascaded with the order
//   - schema_version: applied migration versions
//
// Amounts are stored as decimal text and read back exactly.
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("audira.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	order := &types.Order{OrderNumber: number, UserID: 1, Items: items, ...}
//	if err := db.CreateOrder(ctx, order); errors.Is(err, storage.ErrAlreadyExists) {
//	    // order number collided, generate another one
//	}
//
// # Compare-and-Set Updates
//
// Status changes only apply when the stored status is still the one the
// caller last read:
//
//	err := db.UpdateOrderStatus(ctx, order, types.OrderProcessing)
//	if errors.Is(err, storage.ErrStaleStatus) {
//	    // someone else moved the order; re-read and re-check the guard
//	}
//
// UpdatePayment takes the expected status explicitly because the caller
// has already written the target status into the payment.
//
// # Transactions
//
// Use transactions for check-then-insert sequences:
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	open, _ := tx.ListPayments(ctx, storage.PaymentFilter{OrderID: id})
//	// ...
//	_ = tx.CreatePayment(ctx, payment)
//
//	return tx.Commit()
//
// The pool holds a single connection, so code holding a Tx must only use
// the Tx until it commits or rolls back.
//
// # Build Tags
//
// The storage package supports two build configurations:
//
// CGO Build (sqlite_cgo tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//   - Requires C compiler
//
//     CGO_ENABLED=1 go build -tags "sqlite_cgo"
//
// Pure Go Build (default, or purego tag):
//
//   - Uses modernc.org/sqlite driver
//
//   - No C compiler needed
//
//     CGO_ENABLED=0 go build
package storage
