package apiserver

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TEENet-io/vault-bridge/bondstore"
	"github.com/TEENet-io/vault-bridge/indexer"
)

var ErrNoBondStore = errors.New("shadow bonds are not kept by this server")

// BondsAPI is the bond search of the backend indexer.
type BondsAPI interface {
	GetBonds(ctx context.Context, stakerPubkey string) ([]indexer.Bond, *indexer.Pagination, error)
}

// EnableBonds turns on the bond routes. api may be nil, the shadow bonds
// are then listed against an empty backend.
func (h *HttpServer) EnableBonds(store *bondstore.Store, api BondsAPI) {
	h.bonds = store
	h.bondsApi = api
}

type BondsResponse struct {
	Bonds        []indexer.Bond        `json:"bonds"`
	Pending      []bondstore.LocalBond `json:"pending"`
	Intermediate []bondstore.LocalBond `json:"intermediate"`
}

// Bonds merges the backend bonds of ?pk= with the shadow bonds the
// backend has not caught up with yet. Settled shadow bonds are removed.
func (h *HttpServer) Bonds(c *gin.Context) {
	if h.bonds == nil {
		h.respond(c, nil, ErrNoBondStore)
		return
	}
	pk := c.Query("pk")
	if pk == "" {
		h.respond(c, nil, bondstore.ErrNoPublicKey)
		return
	}
	ctx := c.Request.Context()

	apiBonds := []indexer.Bond{}
	if h.bondsApi != nil {
		bonds, _, err := h.bondsApi.GetBonds(ctx, pk)
		if err != nil {
			h.respond(c, nil, err)
			return
		}
		if bonds != nil {
			apiBonds = bonds
		}
	}

	intermediate, err := h.bonds.ReconcileIntermediate(ctx, pk, apiBonds)
	if err != nil {
		h.respond(c, nil, err)
		return
	}
	_, n := h.network(c)
	pending, _, err := h.bonds.FilterPending(ctx, pk, apiBonds, n.Txs, time.Now())
	if err != nil {
		h.respond(c, nil, err)
		return
	}

	h.respond(c, BondsResponse{Bonds: apiBonds, Pending: pending, Intermediate: intermediate}, nil)
}

// ShadowBondRequest records a bond right after its tx is broadcast, or an
// unbonding/withdrawal the staker has requested.
type ShadowBondRequest struct {
	Intermediate bool `json:"intermediate"`
	bondstore.LocalBond
}

func (h *HttpServer) PutShadowBond(c *gin.Context) {
	if h.bonds == nil {
		h.respond(c, nil, ErrNoBondStore)
		return
	}
	var req ShadowBondRequest
	if err := bindJSON(c, &req); err != nil {
		h.respond(c, nil, err)
		return
	}

	ns := bondstore.NamespaceBonds
	if req.Intermediate {
		ns = bondstore.NamespaceIntermediate
	}
	bond := req.LocalBond
	if bond.Status == "" {
		bond.Status = indexer.PENDING
	}
	if bond.CreatedAt == 0 {
		bond.CreatedAt = time.Now().Unix()
	}

	if err := h.bonds.Put(c.Request.Context(), ns, bond); err != nil {
		h.respond(c, nil, err)
		return
	}
	h.respond(c, bond, nil)
}
