package apiserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/vault-bridge/vaultflow"
	"github.com/TEENet-io/vault-bridge/wallet"
)

const (
	ROUTE_WALLET_WS = "/wallet/ws"
	ROUTE_MINT      = "/api/mint"
	ROUTE_BURN      = "/api/burn"

	defaultWalletWait = 30 * time.Second
)

var (
	ErrNoWallet          = errors.New("no wallet is available for this network")
	ErrNoWalletConnected = errors.New("no wallet page is connected")
)

// EnableWalletBridge accepts companion pages on ROUTE_WALLET_WS. Networks
// without their own wallet then sign through the connected extension.
// Call it before SetupRouter.
func (h *HttpServer) EnableWalletBridge(bridge *wallet.WSBridge, wait time.Duration) {
	if wait <= 0 {
		wait = defaultWalletWait
	}
	h.walletBridge = bridge
	h.walletWait = wait
}

// provider picks the wallet signing for n: its own wallet first, the
// extension behind the bridge otherwise.
func (h *HttpServer) provider(ctx context.Context, n *Network) (wallet.Provider, error) {
	if n.Wallet != nil {
		return n.Wallet, nil
	}
	if h.walletBridge == nil {
		return nil, ErrNoWallet
	}

	waitCtx, cancel := context.WithTimeout(ctx, h.walletWait)
	defer cancel()
	injected, err := h.walletBridge.Wait(waitCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoWalletConnected, err)
	}
	return wallet.NewExtensionWallet(injected, n.Flow.Profile(), n.Chain)
}

// Mint builds, signs with the network's wallet and broadcasts a vault tx.
func (h *HttpServer) Mint(c *gin.Context) {
	var body mintBody
	if err := bindJSON(c, &body); err != nil {
		h.respond(c, nil, err)
		return
	}
	req, err := body.request()
	if err != nil {
		h.respond(c, nil, err)
		return
	}
	_, n := h.network(c)
	p, err := h.provider(c.Request.Context(), n)
	if err != nil {
		h.respond(c, nil, err)
		return
	}
	res, err := n.Flow.Mint(c.Request.Context(), req, p)
	h.respond(c, res, err)
}

// Burn runs the unbond saga with the network's wallet.
func (h *HttpServer) Burn(c *gin.Context) {
	var req vaultflow.BurnRequest
	if err := bindJSON(c, &req); err != nil {
		h.respond(c, nil, err)
		return
	}
	name, n := h.network(c)
	p, err := h.provider(c.Request.Context(), n)
	if err != nil {
		h.respond(c, nil, err)
		return
	}
	log := logger.WithField("network", name)
	res, err := n.Flow.Burn(c.Request.Context(), req, p, func(status string) {
		log.WithField("status", status).Info("burn progress")
	})
	h.respond(c, res, err)
}
