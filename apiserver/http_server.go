// The http surface of the bridge. Routes proxy to the bitcoin node of a
// network or drive the vault flow, and always answer with the same
// envelope: {status, data} or {status, error}.

package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	logger "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpchealth "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/TEENet-io/vault-bridge/bondstore"
	"github.com/TEENet-io/vault-bridge/btcman/assembler"
	"github.com/TEENet-io/vault-bridge/btcman/rpc"
	"github.com/TEENet-io/vault-bridge/burnintent"
	"github.com/TEENet-io/vault-bridge/common"
	"github.com/TEENet-io/vault-bridge/config"
	"github.com/TEENet-io/vault-bridge/mempool"
	"github.com/TEENet-io/vault-bridge/metrics"
	"github.com/TEENet-io/vault-bridge/vaultflow"
	"github.com/TEENet-io/vault-bridge/wallet"
)

const (
	ROUTE_HELLO        = "/hello"
	ROUTE_METRICS      = "/metrics"
	ROUTE_BITCOIND     = "/api/bitcoind-api"
	ROUTE_BROADCAST    = "/api/broadcast-btc-transaction"
	ROUTE_TEST_TX      = "/api/test-transaction"
	ROUTE_MINT_PSBT    = "/api/mint-tx-psbt"
	ROUTE_UNBOND_PSBT  = "/api/unbond-tx-psbt"
	ROUTE_FEES         = "/api/fees"
	ROUTE_BURN_INTENTS = "/api/burn-intents"
	ROUTE_BONDS        = "/api/bonds"

	shutdownTimeout = 5 * time.Second
)

var (
	ErrMissingTxHex       = errors.New("Please provide the hex tx from psbt")
	ErrMissingMethod      = errors.New("Please provide the rpc method")
	ErrNodeNotConfigured  = errors.New("no bitcoin node is configured for this network")
	ErrNoIntentStore      = errors.New("burn intents are not kept by this server")
	ErrUnknownDefault     = errors.New("default network has no handler")
	ErrInvalidRequestBody = errors.New("invalid request body")
)

// failures caused by the caller, reported with status 400
var badRequestErrors = []error{
	ErrMissingTxHex,
	ErrMissingMethod,
	ErrInvalidRequestBody,
	common.ErrInvalidEvmAddress,
	common.ErrInvalidChainId,
	common.ErrInvalidPubKey,
	config.ErrUnknownAddress,
	config.ErrWrongNetwork,
	assembler.ErrAddressNetwork,
	assembler.ErrNotSegwitAddress,
	assembler.ErrInvalidStakingAmount,
	vaultflow.ErrInvalidMintingValue,
	burnintent.ErrInvalidStatus,
	vaultflow.ErrMissingDestination,
	vaultflow.ErrMissingBurnAmount,
	bondstore.ErrNoPublicKey,
	bondstore.ErrNoTxHash,
}

// NodeAPI is the part of the bitcoin node the routes proxy to.
type NodeAPI interface {
	Command(ctx context.Context, method string, params []json.RawMessage) (json.RawMessage, error)
	TestMempoolAccept(ctx context.Context, txHex string) (*rpc.MempoolAcceptResult, error)
}

// FeeAPI answers the fee route.
type FeeAPI interface {
	RecommendedFees(ctx context.Context) (*mempool.Fees, error)
}

// Network bundles what the routes need for one profile. Node may be nil
// outside of regtest, the node routes then fail. Wallet is a wallet the
// server holds itself, only ever set on regtest.
type Network struct {
	Flow   *vaultflow.Flow
	Node   NodeAPI
	Fees   FeeAPI
	Txs    bondstore.MempoolChecker
	Chain  wallet.ChainReader
	Wallet wallet.Provider
}

type Config struct {
	HttpIp         string
	HttpPort       string
	GrpcPort       string
	DefaultNetwork string
}

type HttpServer struct {
	cfg Config

	// keyed by lower case profile name
	networks map[string]*Network
	intents  *burnintent.Store
	bonds    *bondstore.Store
	bondsApi BondsAPI
	metrics  *metrics.Metrics

	walletBridge *wallet.WSBridge
	walletWait   time.Duration

	health *health.Server
}

func NewHttpServer(cfg Config, networks map[string]*Network, intents *burnintent.Store, m *metrics.Metrics) (*HttpServer, error) {
	byName := make(map[string]*Network, len(networks))
	for name, n := range networks {
		byName[strings.ToLower(name)] = n
	}
	if _, ok := byName[strings.ToLower(cfg.DefaultNetwork)]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDefault, cfg.DefaultNetwork)
	}
	return &HttpServer{
		cfg:      cfg,
		networks: byName,
		intents:  intents,
		metrics:  m,
		health:   health.NewServer(),
	}, nil
}

// Hook up routes & handlers. Every route also answers under
// /:network/ to pick a profile by path segment.
func (h *HttpServer) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	for _, g := range []*gin.RouterGroup{router.Group("/"), router.Group("/:network")} {
		g.GET(ROUTE_HELLO, Hello)
		g.POST(ROUTE_BITCOIND, h.BitcoindApi)
		g.POST(ROUTE_BROADCAST, h.BroadcastTransaction)
		g.POST(ROUTE_TEST_TX, h.TestTransaction)
		g.POST(ROUTE_MINT_PSBT, h.MintTxPsbt)
		g.POST(ROUTE_UNBOND_PSBT, h.UnbondTxPsbt)
		g.GET(ROUTE_FEES, h.Fees)
		g.GET(ROUTE_BURN_INTENTS, h.BurnIntents)
		g.GET(ROUTE_BONDS, h.Bonds)
		g.POST(ROUTE_BONDS, h.PutShadowBond)
		g.POST(ROUTE_MINT, h.Mint)
		g.POST(ROUTE_BURN, h.Burn)
	}
	if h.walletBridge != nil {
		router.GET(ROUTE_WALLET_WS, gin.WrapH(h.walletBridge))
	}
	if h.metrics != nil {
		router.GET(ROUTE_METRICS, gin.WrapH(h.metrics.Handler()))
	}

	return router
}

// Serve answers http on httpLis and the grpc health service on grpcLis
// until ctx is done. grpcLis may be nil.
func (h *HttpServer) Serve(ctx context.Context, httpLis, grpcLis net.Listener) error {
	srv := &http.Server{
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var grpcServer *grpc.Server
	if grpcLis != nil {
		grpcServer = grpc.NewServer()
		grpchealth.RegisterHealthServer(grpcServer, h.health)
		go func() {
			if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				logger.WithError(err).Error("grpc health server stopped")
			}
		}()
	}
	h.health.SetServingStatus("", grpchealth.HealthCheckResponse_SERVING)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(httpLis)
	}()
	logger.WithFields(logger.Fields{
		"http": httpLis.Addr().String(),
		"grpc": addrOf(grpcLis),
	}).Info("api server listening")

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	h.health.Shutdown()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.WithError(shutdownErr).Warn("http server shutdown")
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Hook up router & ip:port
func (h *HttpServer) Run(ctx context.Context) error {
	httpLis, err := net.Listen("tcp", net.JoinHostPort(h.cfg.HttpIp, h.cfg.HttpPort))
	if err != nil {
		return err
	}
	var grpcLis net.Listener
	if h.cfg.GrpcPort != "" {
		grpcLis, err = net.Listen("tcp", net.JoinHostPort(h.cfg.HttpIp, h.cfg.GrpcPort))
		if err != nil {
			httpLis.Close()
			return err
		}
	}
	return h.Serve(ctx, httpLis, grpcLis)
}

func addrOf(lis net.Listener) string {
	if lis == nil {
		return ""
	}
	return lis.Addr().String()
}

// Example route.
func Hello(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "world",
	})
}

// network resolves the path segment; unknown names fall back to the
// default network.
func (h *HttpServer) network(c *gin.Context) (string, *Network) {
	name := strings.ToLower(c.Param("network"))
	if n, ok := h.networks[name]; ok {
		return name, n
	}
	name = strings.ToLower(h.cfg.DefaultNetwork)
	return name, h.networks[name]
}

// respond writes the envelope. The http status stays 200, the envelope
// status tells success from failure.
func (h *HttpServer) respond(c *gin.Context, data interface{}, err error) {
	status := http.StatusOK
	body := gin.H{}
	if err != nil {
		status = http.StatusInternalServerError
		if isBadRequest(err) {
			status = http.StatusBadRequest
		}
		body["error"] = err.Error()
		logger.WithFields(logger.Fields{
			"route":  c.FullPath(),
			"status": status,
		}).WithError(err).Warn("request failed")
	} else {
		body["data"] = data
	}
	body["status"] = status

	h.metrics.HttpRequest(c.FullPath(), strconv.Itoa(status))
	c.JSON(http.StatusOK, body)
}

func isBadRequest(err error) bool {
	for _, target := range badRequestErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func bindJSON(c *gin.Context, out interface{}) error {
	if err := c.ShouldBindJSON(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequestBody, err)
	}
	return nil
}

type BitcoindRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type BitcoindResponse struct {
	Response json.RawMessage `json:"response"`
}

// Generic json-rpc passthrough to the node.
func (h *HttpServer) BitcoindApi(c *gin.Context) {
	var req BitcoindRequest
	if err := bindJSON(c, &req); err != nil {
		h.respond(c, nil, err)
		return
	}
	if req.Method == "" {
		h.respond(c, nil, ErrMissingMethod)
		return
	}
	_, n := h.network(c)
	if n.Node == nil {
		h.respond(c, nil, ErrNodeNotConfigured)
		return
	}

	res, err := n.Node.Command(c.Request.Context(), req.Method, req.Params)
	if err != nil {
		h.respond(c, nil, err)
		return
	}
	h.respond(c, BitcoindResponse{Response: res}, nil)
}

type TxHexRequest struct {
	HexTxFromPsbt string `json:"hexTxFromPsbt"`
}

func (h *HttpServer) txHex(c *gin.Context) (string, error) {
	var req TxHexRequest
	if err := bindJSON(c, &req); err != nil {
		return "", err
	}
	if req.HexTxFromPsbt == "" {
		return "", ErrMissingTxHex
	}
	return req.HexTxFromPsbt, nil
}

// Broadcasts a finalized tx, answers the txid.
func (h *HttpServer) BroadcastTransaction(c *gin.Context) {
	hex, err := h.txHex(c)
	if err != nil {
		h.respond(c, nil, err)
		return
	}
	_, n := h.network(c)
	txid, err := n.Flow.BroadcastTx(c.Request.Context(), hex)
	h.respond(c, txid, err)
}

// Answers the first testmempoolaccept verdict.
func (h *HttpServer) TestTransaction(c *gin.Context) {
	hex, err := h.txHex(c)
	if err != nil {
		h.respond(c, nil, err)
		return
	}
	_, n := h.network(c)
	if n.Node == nil {
		h.respond(c, nil, ErrNodeNotConfigured)
		return
	}
	res, err := n.Node.TestMempoolAccept(c.Request.Context(), hex)
	h.respond(c, res, err)
}

// mintBody accepts the amounts as json numbers or numeric strings.
type mintBody struct {
	SourceAddress      string          `json:"sourceChainAddress"`
	SourcePublicKey    string          `json:"sourceChainPublicKey"`
	DestinationChainId json.RawMessage `json:"destinationChainId"`
	ContractAddress    string          `json:"smartContractAddress"`
	ReceiverAddress    string          `json:"tokenReceiverAddress"`
	StakingAmount      json.Number     `json:"stakingAmount"`
	MintingAmount      json.Number     `json:"mintingAmount"`
	ServicePublicKey   string          `json:"servicePublicKey"`
}

func (b mintBody) request() (vaultflow.MintRequest, error) {
	req := vaultflow.MintRequest{
		SourceAddress:      b.SourceAddress,
		SourcePublicKey:    b.SourcePublicKey,
		DestinationChainId: rawText(b.DestinationChainId),
		ContractAddress:    b.ContractAddress,
		ReceiverAddress:    b.ReceiverAddress,
		ServicePublicKey:   b.ServicePublicKey,
	}
	staking, err := strconv.ParseInt(b.StakingAmount.String(), 10, 64)
	if err != nil {
		return req, fmt.Errorf("%w: stakingAmount", assembler.ErrInvalidStakingAmount)
	}
	minting, err := strconv.ParseUint(b.MintingAmount.String(), 10, 64)
	if err != nil {
		return req, fmt.Errorf("%w: mintingAmount", vaultflow.ErrInvalidMintingValue)
	}
	req.StakingAmount = staking
	req.MintingAmount = minting
	return req, nil
}

// rawText reads a json string or number literal as text.
func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}

func (h *HttpServer) MintTxPsbt(c *gin.Context) {
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
	res, err := n.Flow.BuildMintPsbt(c.Request.Context(), req)
	h.respond(c, res, err)
}

func (h *HttpServer) UnbondTxPsbt(c *gin.Context) {
	var req vaultflow.UnbondRequest
	if err := bindJSON(c, &req); err != nil {
		h.respond(c, nil, err)
		return
	}
	_, n := h.network(c)
	res, err := n.Flow.BuildUnbondPsbt(c.Request.Context(), req)
	h.respond(c, res, err)
}

type FeesResponse struct {
	Fees    *mempool.Fees `json:"fees"`
	Warning string        `json:"warning,omitempty"`
}

// Fees never fails, an unreachable fee api yields the default rate and
// a warning.
func (h *HttpServer) Fees(c *gin.Context) {
	name, n := h.network(c)
	var (
		fees *mempool.Fees
		err  error
	)
	if n.Fees != nil {
		fees, err = n.Fees.RecommendedFees(c.Request.Context())
	} else {
		err = errors.New("no fee api")
	}
	if err != nil {
		w := &mempool.FallbackWarning{Rate: mempool.DefaultFeeRate, Cause: err}
		logger.WithField("network", name).Warn(w.Error())
		h.metrics.FeeFallback()
		d := mempool.DefaultFeeRate
		h.respond(c, FeesResponse{
			Fees:    &mempool.Fees{FastestFee: d, HalfHourFee: d, HourFee: d, EconomyFee: d, MinimumFee: d},
			Warning: w.Error(),
		}, nil)
		return
	}
	h.respond(c, FeesResponse{Fees: fees}, nil)
}

var listedStatuses = []burnintent.Status{
	burnintent.StatusCreated,
	burnintent.StatusSigned,
	burnintent.StatusApproved,
	burnintent.StatusBurned,
	burnintent.StatusBroadcast,
	burnintent.StatusFailed,
}

// Lists burn intents, optionally filtered by ?status=.
func (h *HttpServer) BurnIntents(c *gin.Context) {
	if h.intents == nil {
		h.respond(c, nil, ErrNoIntentStore)
		return
	}
	statuses := listedStatuses
	if s := c.Query("status"); s != "" {
		st, err := burnintent.ParseStatus(s)
		if err != nil {
			h.respond(c, nil, fmt.Errorf("%w: %q", err, s))
			return
		}
		statuses = []burnintent.Status{st}
	}

	out := []*burnintent.Intent{}
	for _, st := range statuses {
		intents, err := h.intents.GetByStatus(c.Request.Context(), st)
		if err != nil {
			h.respond(c, nil, err)
			return
		}
		out = append(out, intents...)
	}
	h.respond(c, out, nil)
}
