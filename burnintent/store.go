package burnintent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/TEENet-io/vault-bridge/database"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	logger "github.com/sirupsen/logrus"
)

type Store struct {
	stmtCache *database.StmtCache
	owned     *sql.DB
	now       func() time.Time
}

// NewStore creates the table on db if needed. The caller keeps ownership
// of db.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(intentTable); err != nil {
		return nil, err
	}
	return &Store{
		stmtCache: database.NewStmtCache(db),
		now:       time.Now,
	}, nil
}

// Open is NewStore on a sqlite file that Close also closes.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite takes one writer; a single connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	st, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	st.owned = db
	return st, nil
}

func (st *Store) Close() error {
	st.stmtCache.Clear()
	if st.owned != nil {
		return st.owned.Close()
	}
	return nil
}

// Insert stores a new intent in state created and returns its id.
func (st *Store) Insert(ctx context.Context, in *Intent) (string, error) {
	if in.StakerAddress == "" || in.ReceiverAddress == "" || in.VaultTxId == "" {
		return "", fmt.Errorf("%w: staker, receiver and vault tx are required", ErrMissingField)
	}

	query := `INSERT INTO burn_intent (` + intentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := st.stmtCache.PrepareContext(ctx, query)
	if err != nil {
		return "", err
	}

	id := in.Id
	if id == "" {
		id = uuid.NewString()
	}
	now := st.now().UnixMilli()
	_, err = stmt.ExecContext(ctx, id, in.StakerAddress, in.ReceiverAddress, in.VaultTxId,
		in.SignedPsbt, in.ApproveTxHash, in.BurnTxHash, in.BtcTxId, string(StatusCreated), "", now, now)
	if err != nil {
		return "", err
	}

	logger.WithFields(logger.Fields{"id": id, "vaultTxId": in.VaultTxId}).Debug("burn intent created")
	return id, nil
}

func (st *Store) GetById(ctx context.Context, id string) (*Intent, error) {
	query := `SELECT` + intentColumns + `FROM burn_intent WHERE id = ?`
	stmt, err := st.stmtCache.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}

	intent, err := scanIntent(stmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrIntentNotFound, id)
	}
	return intent, err
}

// GetByStatus lists intents oldest first. An empty status lists all.
func (st *Store) GetByStatus(ctx context.Context, status Status) ([]*Intent, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		stmt, perr := st.stmtCache.PrepareContext(ctx, `SELECT`+intentColumns+`FROM burn_intent ORDER BY createdAt, id`)
		if perr != nil {
			return nil, perr
		}
		rows, err = stmt.QueryContext(ctx)
	} else {
		stmt, perr := st.stmtCache.PrepareContext(ctx, `SELECT`+intentColumns+`FROM burn_intent WHERE status = ? ORDER BY createdAt, id`)
		if perr != nil {
			return nil, perr
		}
		rows, err = stmt.QueryContext(ctx, string(status))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	intents := []*Intent{}
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, intent)
	}
	return intents, rows.Err()
}

// Advance moves id forward to next and records the non empty fields.
func (st *Store) Advance(ctx context.Context, id string, next Status, f Fields) error {
	return st.transition(ctx, id, func(cur Status) error {
		if !cur.CanAdvanceTo(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
		}
		return nil
	}, next, f, nil)
}

// MarkFailed ends an intent that has not burned yet. Burned intents stay
// resumable, use RecordError for them.
func (st *Store) MarkFailed(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return st.transition(ctx, id, func(cur Status) error {
		if cur.Terminal() || cur == StatusBurned {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, StatusFailed)
		}
		return nil
	}, StatusFailed, Fields{}, &msg)
}

// RecordError keeps the status and stores the latest error.
func (st *Store) RecordError(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return st.transition(ctx, id, func(cur Status) error {
		if cur.Terminal() {
			return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, cur)
		}
		return nil
	}, "", Fields{}, &msg)
}

// transition reads the current status and writes the update in one sql
// transaction. An empty next keeps the status.
func (st *Store) transition(ctx context.Context, id string, check func(Status) error, next Status, f Fields, errMsg *string) error {
	selectStmt, err := st.stmtCache.PrepareContext(ctx, `SELECT status FROM burn_intent WHERE id = ?`)
	if err != nil {
		return err
	}
	updateStmt, err := st.stmtCache.PrepareContext(ctx, `UPDATE burn_intent SET
		status = COALESCE(NULLIF(?, ''), status),
		signedPsbt = COALESCE(NULLIF(?, ''), signedPsbt),
		approveTxHash = COALESCE(NULLIF(?, ''), approveTxHash),
		burnTxHash = COALESCE(NULLIF(?, ''), burnTxHash),
		btcTxId = COALESCE(NULLIF(?, ''), btcTxId),
		error = COALESCE(?, error),
		updatedAt = ?
		WHERE id = ?`)
	if err != nil {
		return err
	}

	tx, err := st.stmtCache.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var cur string
	if err := tx.StmtContext(ctx, selectStmt).QueryRowContext(ctx, id).Scan(&cur); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrIntentNotFound, id)
		}
		return err
	}
	if err := check(Status(cur)); err != nil {
		return err
	}

	var errArg interface{}
	if errMsg != nil {
		errArg = *errMsg
	}
	_, err = tx.StmtContext(ctx, updateStmt).ExecContext(ctx, string(next),
		f.SignedPsbt, f.ApproveTxHash, f.BurnTxHash, f.BtcTxId, errArg, st.now().UnixMilli(), id)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if next != "" {
		logger.WithFields(logger.Fields{"id": id, "from": cur, "to": next}).Debug("burn intent advanced")
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanIntent(row scanner) (*Intent, error) {
	var (
		in                 Intent
		status             string
		created, updatedAt int64
	)
	err := row.Scan(&in.Id, &in.StakerAddress, &in.ReceiverAddress, &in.VaultTxId, &in.SignedPsbt,
		&in.ApproveTxHash, &in.BurnTxHash, &in.BtcTxId, &status, &in.Error, &created, &updatedAt)
	if err != nil {
		return nil, err
	}
	in.Status = Status(status)
	in.CreatedAt = time.UnixMilli(created)
	in.UpdatedAt = time.UnixMilli(updatedAt)
	return &in, nil
}
