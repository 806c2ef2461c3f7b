package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/TEENet-io/vault-bridge/common"
	"github.com/spf13/viper"
)

const (
	DEFAULT_NETWORK   = "Mainnet"
	DEFAULT_HTTP_IP   = "0.0.0.0"
	DEFAULT_HTTP_PORT = "8080"
	DEFAULT_GRPC_PORT = "50051"
	DEFAULT_DB_FILE   = "vault-bridge.db"
)

// Settings of the whole process. Profiles are keyed by lower case name.
type Settings struct {
	Profiles       map[string]NetworkProfile
	DefaultNetwork string

	IndexerApiUrl string
	DbFilePath    string

	HttpIp   string
	HttpPort string
	GrpcPort string

	// service co-signing key, either a WIF or an encrypted key file
	ServicePrivateKey    string
	ServiceKeyFile       string
	ServiceKeyPassphrase string

	// evm account that approves and burns
	EvmPrivateKey string

	AllowRegtestKeys bool
	ProductionMode   bool
	LogLevel         string

	// companion page websocket for browser extension wallets
	WalletBridge        bool
	WalletBridgeOrigins []string
}

// Profile resolves a network by case insensitive name. An empty or
// unknown name resolves to the default network, the same way an unknown
// path segment did in the browser app.
func (s *Settings) Profile(name string) (NetworkProfile, error) {
	if p, ok := s.Profiles[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p.Copy(), nil
	}
	if p, ok := s.Profiles[strings.ToLower(s.DefaultNetwork)]; ok {
		return p.Copy(), nil
	}
	return NetworkProfile{}, fmt.Errorf("%w: %q (default %q)", ErrUnknownProfile, name, s.DefaultNetwork)
}

// Names lists the configured network names.
func (s *Settings) Names() []string {
	out := make([]string, 0, len(s.Profiles))
	for _, p := range s.Profiles {
		out = append(out, p.Name)
	}
	return out
}

// profile field overlays, read as <NETWORK>_<SUFFIX> for every network
// and as the bare legacy name for the default network.
var overlays = []struct {
	suffix string
	legacy string
	apply  func(p *NetworkProfile, val string) error
}{
	{"BTC_NODE_HOST", "BTC_NODE_HOST", func(p *NetworkProfile, v string) error { p.NodeHost = v; return nil }},
	{"BTC_NODE_PORT", "BTC_NODE_PORT", func(p *NetworkProfile, v string) error { p.NodePort = v; return nil }},
	{"BTC_NODE_WALLET", "BTC_NODE_WALLET", func(p *NetworkProfile, v string) error { p.NodeWallet = v; return nil }},
	{"BTC_NODE_USER", "BTC_NODE_USER", func(p *NetworkProfile, v string) error { p.NodeUser = v; return nil }},
	{"BTC_NODE_PASSWORD", "BTC_NODE_PASSWORD", func(p *NetworkProfile, v string) error { p.NodePassword = v; return nil }},
	{"MEMPOOL_API", "MEMPOOL_API", func(p *NetworkProfile, v string) error { p.MempoolApiUrl = v; return nil }},
	{"MEMPOOL_WEB", "MEMPOOL_WEB", func(p *NetworkProfile, v string) error { p.MempoolWebUrl = v; return nil }},
	{"SCANNER_URL", "SCANNER_URL", func(p *NetworkProfile, v string) error { p.ScannerUrl = v; return nil }},
	{"COVENANT_PUBKEYS", "COVENANT_PUBKEYS", func(p *NetworkProfile, v string) error {
		p.Covenant.CovenantPubkeys = common.SplitAndTrim(v)
		return nil
	}},
	{"QUORUM", "QUORUM", func(p *NetworkProfile, v string) error {
		q, err := parseUint8(v)
		p.Covenant.Quorum = q
		return err
	}},
	{"TAG", "TAG", func(p *NetworkProfile, v string) error { p.Covenant.Tag = common.Trim0xPrefix(v); return nil }},
	{"VERSION", "VERSION", func(p *NetworkProfile, v string) error {
		ver, err := parseUint8(v)
		p.Covenant.Version = ver
		return err
	}},
	{"SERVICE_PUBKEY", "SERVICE_PUBKEY", func(p *NetworkProfile, v string) error { p.ServicePublicKey = v; return nil }},
	{"BTC_CHAIN_NAME", "BTC_CHAIN_NAME", func(p *NetworkProfile, v string) error { p.DestinationChainName = v; return nil }},
	{"BTC_ADDRESS", "BTC_ADDRESS", func(p *NetworkProfile, v string) error { p.DestinationAddress = v; return nil }},
	{"BURN_CONTRACT_ADDRESS", "BURN_CONTRACT_ADDRESS", func(p *NetworkProfile, v string) error { p.BurnContractAddress = v; return nil }},
	{"TOKEN_CONTRACT_ADDRESS", "SBTC_CONTRACT_ADDRESS", func(p *NetworkProfile, v string) error { p.TokenContractAddress = v; return nil }},
	{"EVM_RPC_URL", "EVM_RPC_URL", func(p *NetworkProfile, v string) error { p.EvmRpcUrl = v; return nil }},
	{"EVM_CHAIN_ID", "EVM_CHAIN_ID", func(p *NetworkProfile, v string) error { p.EvmChainId = v; return nil }},
	{"STAKING_AMOUNT", "STAKING_AMOUNT", func(p *NetworkProfile, v string) error {
		var n int64
		_, err := fmt.Sscan(v, &n)
		p.StakingAmount = n
		return err
	}},
	{"MINTING_AMOUNT", "MINTING_AMOUNT", func(p *NetworkProfile, v string) error { p.MintingAmount = v; return nil }},
	{"BURNING_AMOUNT", "BURNING_AMOUNT", func(p *NetworkProfile, v string) error { p.BurningAmount = v; return nil }},
	{"UNBONDING_FEE_SATS", "UNBONDING_FEE_SATS", func(p *NetworkProfile, v string) error {
		var n int64
		_, err := fmt.Sscan(v, &n)
		p.UnbondingFeeSats = n
		return err
	}},
	{"REGTEST_WIF", "REGTEST_WIF", func(p *NetworkProfile, v string) error { p.RegtestWIF = v; return nil }},
}

func parseUint8(s string) (uint8, error) {
	var n uint8
	if _, err := fmt.Sscan(s, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// Load builds the settings from v. The network list comes from the file
// named by NETWORK_LIST_FILE or the embedded default. Environment style
// keys are then overlaid onto the profiles.
func Load(v *viper.Viper) (*Settings, error) {
	listData := DefaultNetworkList
	if f := v.GetString("NETWORK_LIST_FILE"); f != "" {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read network list %s: %w", f, err)
		}
		listData = data
	}
	list, err := LoadNetworkList(listData)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNoProfiles
	}

	s := &Settings{
		Profiles:             make(map[string]NetworkProfile, len(list)),
		DefaultNetwork:       firstNonEmpty(v.GetString("DEFAULT_NETWORK"), v.GetString("NETWORK"), DEFAULT_NETWORK),
		IndexerApiUrl:        firstNonEmpty(v.GetString("INDEXER_API_URL"), v.GetString("API_URL")),
		DbFilePath:           firstNonEmpty(v.GetString("DB_FILE_PATH"), DEFAULT_DB_FILE),
		HttpIp:               firstNonEmpty(v.GetString("HTTP_IP"), DEFAULT_HTTP_IP),
		HttpPort:             firstNonEmpty(v.GetString("HTTP_PORT"), DEFAULT_HTTP_PORT),
		GrpcPort:             firstNonEmpty(v.GetString("GRPC_PORT"), DEFAULT_GRPC_PORT),
		ServicePrivateKey:    v.GetString("SERVICE_PRIVATE_KEY"),
		ServiceKeyFile:       v.GetString("SERVICE_KEY_FILE"),
		ServiceKeyPassphrase: v.GetString("SERVICE_KEY_PASSPHRASE"),
		EvmPrivateKey:        v.GetString("EVM_PRIVATE_KEY"),
		AllowRegtestKeys:     v.GetBool("ALLOW_REGTEST_KEYS"),
		ProductionMode:       v.GetBool("PRODUCTION_MODE"),
		LogLevel:             firstNonEmpty(v.GetString("LOG_LEVEL"), "info"),
		WalletBridge:         v.GetBool("WALLET_BRIDGE"),
		WalletBridgeOrigins:  common.SplitAndTrim(v.GetString("WALLET_BRIDGE_ORIGINS")),
	}

	// the legacy NETWORK value may be a kind ("regtest") rather than a name
	defaultKey := strings.ToLower(s.DefaultNetwork)
	if kind, err := ParseNetworkKind(s.DefaultNetwork); err == nil {
		found := false
		for _, p := range list {
			if p.Key() == defaultKey {
				found = true
				break
			}
		}
		if !found {
			for _, p := range list {
				if p.Kind == kind {
					defaultKey = p.Key()
					s.DefaultNetwork = p.Name
					break
				}
			}
		}
	}

	for _, p := range list {
		// network specific keys win over the legacy names
		if p.Key() == defaultKey {
			for _, o := range overlays {
				if val := v.GetString(o.legacy); val != "" {
					if err := o.apply(&p, val); err != nil {
						return nil, fmt.Errorf("invalid %s: %w", o.legacy, err)
					}
				}
			}
		}
		prefix := strings.ToUpper(p.Name) + "_"
		for _, o := range overlays {
			if val := v.GetString(prefix + o.suffix); val != "" {
				if err := o.apply(&p, val); err != nil {
					return nil, fmt.Errorf("invalid %s%s: %w", prefix, o.suffix, err)
				}
			}
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		s.Profiles[p.Key()] = p
	}

	def, ok := s.Profiles[defaultKey]
	if !ok {
		return nil, fmt.Errorf("%w: default network %q", ErrUnknownProfile, s.DefaultNetwork)
	}
	s.DefaultNetwork = def.Name

	if err := s.checkRegtestKeys(); err != nil {
		return nil, err
	}
	return s, nil
}

// checkRegtestKeys refuses any plaintext wallet key unless explicitly
// allowed outside of production. Keys on non regtest profiles are never
// accepted.
func (s *Settings) checkRegtestKeys() error {
	for _, p := range s.Profiles {
		if p.RegtestWIF == "" {
			continue
		}
		if !p.IsRegtest() {
			return fmt.Errorf("%w: network %s is %s", ErrRegtestKeyInProduction, p.Name, p.Kind)
		}
		if !s.AllowRegtestKeys || s.ProductionMode {
			return fmt.Errorf("%w: network %s", ErrRegtestKeyInProduction, p.Name)
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
