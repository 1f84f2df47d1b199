package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marcus/posync/internal/faults"
	"github.com/marcus/posync/internal/models"
)

var (
	// ErrDuplicateToken is returned when a token was already issued by this store
	ErrDuplicateToken = errors.New("duplicate idempotency token")
	// ErrNotFound is returned when no pending operation has the token
	ErrNotFound = errors.New("pending operation not found")
)

var pendingTables = map[models.OperationKind]string{
	models.KindSale:               "pending_sales",
	models.KindInventoryCountLine: "pending_inventory_lines",
}

const pendingColumns = `seq, token, parent_ref, payload, created_at, attempts, last_error, state, next_attempt_at`

func pendingTable(kind models.OperationKind) (string, error) {
	t, ok := pendingTables[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", models.ErrUnknownKind, kind)
	}
	return t, nil
}

// tablesFor returns the pending tables for kinds, or all of them when kinds is empty
func tablesFor(kinds []models.OperationKind) (map[string]models.OperationKind, error) {
	if len(kinds) == 0 {
		kinds = models.AllKinds
	}
	out := make(map[string]models.OperationKind, len(kinds))
	for _, k := range kinds {
		t, err := pendingTable(k)
		if err != nil {
			return nil, err
		}
		out[t] = k
	}
	return out, nil
}

// NewToken mints an idempotency token with the store's generator
func (db *DB) NewToken() string {
	return db.newToken()
}

// Enqueue persists op and returns it as stored, with Seq and Token set.
// A token is minted when op.Token is empty. A token this store has issued
// before is rejected with ErrDuplicateToken, even if its operation has since
// been acknowledged.
func (db *DB) Enqueue(ctx context.Context, op models.PendingOperation) (models.PendingOperation, error) {
	table, err := pendingTable(op.Kind)
	if err != nil {
		return models.PendingOperation{}, err
	}
	if op.Token == "" {
		op.Token = db.newToken()
	}
	now := db.now()
	if op.CreatedAt.IsZero() {
		op.CreatedAt = now
	}
	if op.NextAttemptAt.IsZero() {
		op.NextAttemptAt = op.CreatedAt
	}
	op.State = models.StateQueued
	op.Attempts = 0
	op.LastError = ""

	err = db.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM issued_tokens WHERE token = ?`, op.Token).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check token: %w", err)
		}
		if exists > 0 {
			return ErrDuplicateToken
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO issued_tokens (token, kind, issued_at) VALUES (?, ?, ?)`,
			op.Token, string(op.Kind), formatTime(now))
		if err != nil {
			return fmt.Errorf("record token: %w", err)
		}
		if op.Seq, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("record token: %w", err)
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO `+table+` (`+pendingColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			op.Seq, op.Token, op.ParentRef, string(op.Payload), formatTime(op.CreatedAt),
			op.Attempts, op.LastError, string(op.State), formatTime(op.NextAttemptAt))
		if err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
		return nil
	})
	if errors.Is(err, ErrDuplicateToken) {
		return models.PendingOperation{}, fmt.Errorf("%w: %s", ErrDuplicateToken, op.Token)
	}
	if err != nil {
		return models.PendingOperation{}, faults.Storage("enqueue "+string(op.Kind), err)
	}
	return op, nil
}

// Dequeue deletes the operation with token. It is called on acknowledgment
// and on manual discard.
func (db *DB) Dequeue(ctx context.Context, token string) error {
	var deleted int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for _, kind := range models.AllKinds {
			res, err := tx.ExecContext(ctx, `DELETE FROM `+pendingTables[kind]+` WHERE token = ?`, token)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			deleted += n
		}
		return nil
	})
	if err != nil {
		return faults.Storage("dequeue", err)
	}
	if deleted == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, token)
	}
	return nil
}

// GetPending returns the operation with token
func (db *DB) GetPending(ctx context.Context, token string) (models.PendingOperation, error) {
	for _, kind := range models.AllKinds {
		row := db.conn.QueryRowContext(ctx,
			`SELECT `+pendingColumns+` FROM `+pendingTables[kind]+` WHERE token = ?`, token)
		op, err := scanPending(row, kind)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return models.PendingOperation{}, faults.Storage("get pending", err)
		}
		return op, nil
	}
	return models.PendingOperation{}, fmt.Errorf("%w: %s", ErrNotFound, token)
}

// ListPending returns operations of the given kinds (all kinds when none are
// given) in creation order
func (db *DB) ListPending(ctx context.Context, kinds ...models.OperationKind) ([]models.PendingOperation, error) {
	tables, err := tablesFor(kinds)
	if err != nil {
		return nil, err
	}

	var parts []string
	for table, kind := range tables {
		parts = append(parts, fmt.Sprintf(`SELECT '%s' AS kind, %s FROM %s`, kind, pendingColumns, table))
	}
	query := strings.Join(parts, " UNION ALL ") + " ORDER BY seq"

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, faults.Storage("list pending", err)
	}
	defer rows.Close()

	ops := []models.PendingOperation{}
	for rows.Next() {
		var kind string
		op, err := scanPendingWith(rows, &kind)
		if err != nil {
			return nil, faults.Storage("list pending", err)
		}
		op.Kind = models.OperationKind(kind)
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Storage("list pending", err)
	}
	return ops, nil
}

// CountPending counts operations of the given kinds, all kinds when none are given
func (db *DB) CountPending(ctx context.Context, kinds ...models.OperationKind) (int, error) {
	tables, err := tablesFor(kinds)
	if err != nil {
		return 0, err
	}
	total := 0
	for table := range tables {
		var n int
		if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return 0, faults.Storage("count pending", err)
		}
		total += n
	}
	return total, nil
}

// AttemptUpdate is the attempt metadata of a pending operation, the only
// part of a stored operation that can change
type AttemptUpdate struct {
	State         models.OperationState
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
}

// UpdateAttempt overwrites the attempt metadata of the operation with token
func (db *DB) UpdateAttempt(ctx context.Context, token string, u AttemptUpdate) error {
	var updated int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for _, kind := range models.AllKinds {
			res, err := tx.ExecContext(ctx, `UPDATE `+pendingTables[kind]+`
				SET state = ?, attempts = ?, last_error = ?, next_attempt_at = ?
				WHERE token = ?`,
				string(u.State), u.Attempts, u.LastError, formatTime(u.NextAttemptAt), token)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			updated += n
		}
		return nil
	})
	if err != nil {
		return faults.Storage("update attempt", err)
	}
	if updated == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, token)
	}
	return nil
}

// RecoverInFlight returns operations left SUBMITTING by an interrupted drain
// to QUEUED and reports how many moved. Resubmitting them is safe because
// the server deduplicates by token.
func (db *DB) RecoverInFlight(ctx context.Context) (int, error) {
	var total int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for _, kind := range models.AllKinds {
			res, err := tx.ExecContext(ctx,
				`UPDATE `+pendingTables[kind]+` SET state = ? WHERE state = ?`,
				string(models.StateQueued), string(models.StateSubmitting))
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, faults.Storage("recover in-flight operations", err)
	}
	return int(total), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPending(row rowScanner, kind models.OperationKind) (models.PendingOperation, error) {
	op, err := scanPendingWith(row)
	if err != nil {
		return op, err
	}
	op.Kind = kind
	return op, nil
}

// scanPendingWith scans pendingColumns, preceded by any extra destinations
func scanPendingWith(row rowScanner, extra ...any) (models.PendingOperation, error) {
	var op models.PendingOperation
	var payload, createdAt, state, nextAttemptAt string
	dest := append(extra,
		&op.Seq, &op.Token, &op.ParentRef, &payload, &createdAt,
		&op.Attempts, &op.LastError, &state, &nextAttemptAt)
	if err := row.Scan(dest...); err != nil {
		return op, err
	}
	op.Payload = []byte(payload)
	op.State = models.OperationState(state)

	var err error
	if op.CreatedAt, err = parseTime(createdAt); err != nil {
		return op, err
	}
	if op.NextAttemptAt, err = parseTime(nextAttemptAt); err != nil {
		return op, err
	}
	return op, nil
}
