package bondstore

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/TEENet-io/vault-bridge/indexer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pk = "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"

type fakeMempool map[string]error

func (f fakeMempool) TxConfirmed(_ context.Context, txid string) (bool, bool, error) {
	err, ok := f[txid]
	if !ok {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return true, false, nil
}

func newTestStore(t *testing.T) *Store {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "bonds.db"))
	require.NoError(t, err)
	st, err := NewStore(db)
	require.NoError(t, err)
	t.Cleanup(func() {
		st.Close()
		db.Close()
	})
	return st
}

func hashes(bonds []LocalBond) []string {
	out := []string{}
	for _, b := range bonds {
		out = append(out, b.TxHash)
	}
	return out
}

func TestPutListDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, NamespaceBonds, LocalBond{TxHash: "bb", StakerPubkey: pk, Status: indexer.PENDING, CreatedAt: 2}))
	require.NoError(t, st.Put(ctx, NamespaceBonds, LocalBond{TxHash: "aa", StakerPubkey: pk, Status: indexer.PENDING, CreatedAt: 1}))
	require.NoError(t, st.Put(ctx, NamespaceIntermediate, LocalBond{TxHash: "aa", StakerPubkey: pk, Status: indexer.INTERMEDIATE_UNBONDING}))

	bonds, err := st.List(ctx, NamespaceBonds, pk)
	require.NoError(t, err)
	assert.Equal(t, []string{"aa", "bb"}, hashes(bonds))

	// replace keeps one row per tx
	require.NoError(t, st.Put(ctx, NamespaceBonds, LocalBond{TxHash: "aa", StakerPubkey: pk, Status: indexer.ACTIVE, CreatedAt: 1}))
	bonds, err = st.List(ctx, NamespaceBonds, pk)
	require.NoError(t, err)
	require.Len(t, bonds, 2)
	assert.Equal(t, indexer.ACTIVE, bonds[0].Status)

	require.NoError(t, st.Delete(ctx, NamespaceBonds, pk, "aa"))
	bonds, err = st.List(ctx, NamespaceBonds, pk)
	require.NoError(t, err)
	assert.Equal(t, []string{"bb"}, hashes(bonds))

	// namespaces and keys do not leak into each other
	other, err := st.List(ctx, NamespaceBonds, "02"+pk)
	require.NoError(t, err)
	assert.Empty(t, other)
	inter, err := st.List(ctx, NamespaceIntermediate, pk)
	require.NoError(t, err)
	assert.Len(t, inter, 1)

	_, err = st.List(ctx, NamespaceBonds, "")
	assert.ErrorIs(t, err, ErrNoPublicKey)
	_, err = st.List(ctx, "bonds", pk)
	assert.ErrorIs(t, err, ErrUnknownNamespace)
	assert.ErrorIs(t, st.Put(ctx, NamespaceBonds, LocalBond{StakerPubkey: pk}), ErrNoTxHash)
}

func TestReconcileIntermediate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	put := func(hash, status string) {
		require.NoError(t, st.Put(ctx, NamespaceIntermediate, LocalBond{TxHash: hash, StakerPubkey: pk, Status: status}))
	}
	put("u1", indexer.INTERMEDIATE_UNBONDING)
	put("u2", indexer.INTERMEDIATE_UNBONDING)
	put("u3", indexer.INTERMEDIATE_UNBONDING)
	put("w1", indexer.INTERMEDIATE_WITHDRAWAL)
	put("w2", indexer.INTERMEDIATE_WITHDRAWAL)
	put("gone", indexer.INTERMEDIATE_WITHDRAWAL)

	api := []indexer.Bond{
		{SourceTxHash: "u1", Status: indexer.UNBONDING_REQUESTED},
		{SourceTxHash: "u2", Status: indexer.ACTIVE},
		{SourceTxHash: "u3", Status: indexer.UNBONDED},
		{SourceTxHash: "w1", Status: indexer.UNBONDED},
		{SourceTxHash: "w2", Status: indexer.WITHDRAWN},
	}

	kept, err := st.ReconcileIntermediate(ctx, pk, api)
	require.NoError(t, err)
	assert.Equal(t, []string{"gone", "u2", "w1"}, hashes(kept))

	stored, err := st.List(ctx, NamespaceIntermediate, pk)
	require.NoError(t, err)
	assert.Equal(t, hashes(kept), hashes(stored))
}

func TestFilterPending(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	old := now.Add(-25 * time.Hour).Unix()

	put := func(hash string, created int64) {
		require.NoError(t, st.Put(ctx, NamespaceBonds, LocalBond{TxHash: hash, StakerPubkey: pk, Status: indexer.PENDING, CreatedAt: created}))
	}
	put("indexed", now.Unix())
	put("fresh", now.Add(-time.Hour).Unix())
	put("stale-in-mempool", old)
	put("stale-lost", old)
	put("stale-lookup-failed", old)

	checker := fakeMempool{
		"stale-in-mempool":    nil,
		"stale-lookup-failed": errors.New("timeout"),
	}
	api := []indexer.Bond{{SourceTxHash: "indexed", Status: indexer.ACTIVE}}

	kept, changed, err := st.FilterPending(ctx, pk, api, checker, now)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.ElementsMatch(t, []string{"fresh", "stale-in-mempool"}, hashes(kept))

	stored, err := st.List(ctx, NamespaceBonds, pk)
	require.NoError(t, err)
	assert.ElementsMatch(t, hashes(kept), hashes(stored))

	// second pass has nothing left to drop
	_, changed, err = st.FilterPending(ctx, pk, api, checker, now)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestBondsDiff(t *testing.T) {
	a := []LocalBond{{TxHash: "1"}, {TxHash: "2"}}
	assert.False(t, BondsDiff(a, []LocalBond{{TxHash: "2"}, {TxHash: "1"}}))
	assert.True(t, BondsDiff(a, []LocalBond{{TxHash: "1"}}))
	assert.True(t, BondsDiff(a, []LocalBond{{TxHash: "1"}, {TxHash: "3"}}))
	assert.False(t, BondsDiff(nil, []LocalBond{}))
}
