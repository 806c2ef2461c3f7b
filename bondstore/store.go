package bondstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/TEENet-io/vault-bridge/database"
	"github.com/TEENet-io/vault-bridge/indexer"
	_ "github.com/mattn/go-sqlite3"
	logger "github.com/sirupsen/logrus"
)

// Namespaces keep the storage keys the browser app used, the staker key
// is appended per row.
const (
	NamespaceBonds        = "bbn-staking-bonds"
	NamespaceIntermediate = "bbn-staking-intermediate-bonds"

	// a shadow bond unknown to both the api and the mempool is dropped
	// after this long
	MaxPendingDuration = 24 * time.Hour
)

var (
	ErrNoPublicKey      = errors.New("staker public key is empty")
	ErrUnknownNamespace = errors.New("unknown bond namespace")
	ErrNoTxHash         = errors.New("bond tx hash is empty")
)

var bondTable = `CREATE TABLE IF NOT EXISTS local_bond (
	namespace VARCHAR(40) NOT NULL,
	stakerPubkey VARCHAR(66) NOT NULL,
	txHash CHAR(64) NOT NULL,
	status VARCHAR(32) NOT NULL,
	amount VARCHAR(32) NOT NULL DEFAULT '',
	sourceTxHex TEXT NOT NULL DEFAULT '',
	createdAt INTEGER NOT NULL,
	PRIMARY KEY (namespace, stakerPubkey, txHash)
);`

// LocalBond is a bond the service knows about before the indexer does,
// or an intermediate state it has requested but not yet seen confirmed.
type LocalBond struct {
	TxHash       string `json:"txHash"`
	StakerPubkey string `json:"stakerPubkey"`
	Status       string `json:"status"`
	Amount       string `json:"amount"`
	SourceTxHex  string `json:"sourceTxHex,omitempty"`
	CreatedAt    int64  `json:"createdAt"` // unix seconds
}

// MempoolChecker is satisfied by *mempool.Client.
type MempoolChecker interface {
	TxConfirmed(ctx context.Context, txid string) (found bool, confirmed bool, err error)
}

type Store struct {
	stmtCache *database.StmtCache
}

func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(bondTable); err != nil {
		return nil, err
	}
	return &Store{stmtCache: database.NewStmtCache(db)}, nil
}

func (st *Store) Close() {
	st.stmtCache.Clear()
}

func checkKey(ns, pk string) error {
	if ns != NamespaceBonds && ns != NamespaceIntermediate {
		return fmt.Errorf("%w: %q", ErrUnknownNamespace, ns)
	}
	if pk == "" {
		return ErrNoPublicKey
	}
	return nil
}

// Put inserts or replaces the bond with the same tx hash.
func (st *Store) Put(ctx context.Context, ns string, b LocalBond) error {
	if err := checkKey(ns, b.StakerPubkey); err != nil {
		return err
	}
	if b.TxHash == "" {
		return ErrNoTxHash
	}

	stmt, err := st.stmtCache.PrepareContext(ctx, `INSERT OR REPLACE INTO local_bond
		(namespace, stakerPubkey, txHash, status, amount, sourceTxHex, createdAt) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, ns, b.StakerPubkey, b.TxHash, b.Status, b.Amount, b.SourceTxHex, b.CreatedAt)
	return err
}

func (st *Store) List(ctx context.Context, ns, pk string) ([]LocalBond, error) {
	if err := checkKey(ns, pk); err != nil {
		return nil, err
	}

	stmt, err := st.stmtCache.PrepareContext(ctx, `SELECT txHash, stakerPubkey, status, amount, sourceTxHex, createdAt
		FROM local_bond WHERE namespace = ? AND stakerPubkey = ? ORDER BY createdAt, txHash`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, ns, pk)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bonds := []LocalBond{}
	for rows.Next() {
		var b LocalBond
		if err := rows.Scan(&b.TxHash, &b.StakerPubkey, &b.Status, &b.Amount, &b.SourceTxHex, &b.CreatedAt); err != nil {
			return nil, err
		}
		bonds = append(bonds, b)
	}
	return bonds, rows.Err()
}

func (st *Store) Delete(ctx context.Context, ns, pk, txHash string) error {
	if err := checkKey(ns, pk); err != nil {
		return err
	}
	stmt, err := st.stmtCache.PrepareContext(ctx, `DELETE FROM local_bond WHERE namespace = ? AND stakerPubkey = ? AND txHash = ?`)
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, ns, pk, txHash)
	return err
}

// ReconcileIntermediate drops intermediate records the backend has caught
// up with and returns what is left. Records without a matching api bond
// are kept.
func (st *Store) ReconcileIntermediate(ctx context.Context, pk string, apiBonds []indexer.Bond) ([]LocalBond, error) {
	local, err := st.List(ctx, NamespaceIntermediate, pk)
	if err != nil {
		return nil, err
	}

	apiStatus := make(map[string]string, len(apiBonds))
	for _, b := range apiBonds {
		apiStatus[b.SourceTxHash] = b.Status
	}

	kept := make([]LocalBond, 0, len(local))
	for _, b := range local {
		status, ok := apiStatus[b.TxHash]
		if !ok || !intermediateSettled(b.Status, status) {
			kept = append(kept, b)
			continue
		}
		if err := st.Delete(ctx, NamespaceIntermediate, pk, b.TxHash); err != nil {
			return nil, err
		}
		logger.WithFields(logger.Fields{"tx": b.TxHash, "local": b.Status, "api": status}).Debug("intermediate bond settled")
	}
	return kept, nil
}

func intermediateSettled(local, api string) bool {
	switch local {
	case indexer.INTERMEDIATE_UNBONDING:
		return api == indexer.UNBONDING_REQUESTED || api == indexer.UNBONDING || api == indexer.UNBONDED
	case indexer.INTERMEDIATE_WITHDRAWAL:
		return api == indexer.WITHDRAWN
	}
	return false
}

// FilterPending keeps the shadow bonds still worth showing: not yet in the
// api, and either younger than MaxPendingDuration or still known to the
// mempool. Dropped bonds are deleted. changed reports whether the set
// differs from what was stored.
func (st *Store) FilterPending(ctx context.Context, pk string, apiBonds []indexer.Bond, checker MempoolChecker, now time.Time) (kept []LocalBond, changed bool, err error) {
	local, err := st.List(ctx, NamespaceBonds, pk)
	if err != nil {
		return nil, false, err
	}

	inApi := make(map[string]struct{}, len(apiBonds))
	for _, b := range apiBonds {
		inApi[b.SourceTxHash] = struct{}{}
	}

	kept = make([]LocalBond, 0, len(local))
	for _, b := range local {
		if _, ok := inApi[b.TxHash]; ok {
			continue
		}
		if now.Sub(time.Unix(b.CreatedAt, 0)) > MaxPendingDuration && !inMempool(ctx, checker, b.TxHash) {
			continue
		}
		kept = append(kept, b)
	}

	changed = BondsDiff(kept, local)
	if changed {
		keep := make(map[string]struct{}, len(kept))
		for _, b := range kept {
			keep[b.TxHash] = struct{}{}
		}
		for _, b := range local {
			if _, ok := keep[b.TxHash]; ok {
				continue
			}
			if err := st.Delete(ctx, NamespaceBonds, pk, b.TxHash); err != nil {
				return nil, false, err
			}
		}
	}
	return kept, changed, nil
}

// a lookup failure counts as not in the mempool
func inMempool(ctx context.Context, checker MempoolChecker, txid string) bool {
	if checker == nil {
		return false
	}
	found, _, err := checker.TxConfirmed(ctx, txid)
	if err != nil {
		logger.WithField("tx", txid).Warnf("mempool lookup failed: %v", err)
		return false
	}
	return found
}

// BondsDiff reports whether a and b hold different sets of tx hashes.
func BondsDiff(a, b []LocalBond) bool {
	if len(a) != len(b) {
		return true
	}
	ha, hb := sortedHashes(a), sortedHashes(b)
	for i := range ha {
		if ha[i] != hb[i] {
			return true
		}
	}
	return false
}

func sortedHashes(bonds []LocalBond) []string {
	out := make([]string, len(bonds))
	for i, b := range bonds {
		out[i] = b.TxHash
	}
	sort.Strings(out)
	return out
}
