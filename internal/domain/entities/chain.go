package entities

import (
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
)

// Chain identifies a supported blockchain. Per-chain behavior (confirmation
// threshold, address validation, native asset) hangs off this type so that
// call sites dispatch through an exhaustive switch instead of comparing
// strings ad hoc.
type Chain string

const (
	ChainBitcoin  Chain = "bitcoin"
	ChainEthereum Chain = "ethereum"
	ChainPolygon  Chain = "polygon"
)

// SupportedChains lists every chain the service knows how to watch
var SupportedChains = []Chain{ChainBitcoin, ChainEthereum, ChainPolygon}

// ParseChain parses a chain name, case-insensitively
func ParseChain(s string) (Chain, error) {
	switch Chain(strings.ToLower(s)) {
	case ChainBitcoin:
		return ChainBitcoin, nil
	case ChainEthereum:
		return ChainEthereum, nil
	case ChainPolygon:
		return ChainPolygon, nil
	default:
		return "", fmt.Errorf("unsupported chain: %s", s)
	}
}

// IsValid checks the chain is one of the supported variants
func (c Chain) IsValid() bool {
	switch c {
	case ChainBitcoin, ChainEthereum, ChainPolygon:
		return true
	default:
		return false
	}
}

// IsEVM reports whether the chain uses the Ethereum account model
func (c Chain) IsEVM() bool {
	switch c {
	case ChainEthereum, ChainPolygon:
		return true
	case ChainBitcoin:
		return false
	default:
		return false
	}
}

// RequiredConfirmations returns the block depth at which a transaction on
// this chain is treated as final.
func (c Chain) RequiredConfirmations() int64 {
	switch c {
	case ChainBitcoin:
		return 3
	case ChainEthereum:
		return 12
	case ChainPolygon:
		return 64
	default:
		return 12
	}
}

// NativeAsset returns the asset credited for transfers of the chain's
// native currency.
func (c Chain) NativeAsset() string {
	switch c {
	case ChainBitcoin:
		return "BTC"
	case ChainEthereum:
		return "ETH"
	case ChainPolygon:
		return "MATIC"
	default:
		return ""
	}
}

// DefaultPollInterval returns a chain-appropriate watcher poll cadence
func (c Chain) DefaultPollInterval() time.Duration {
	switch c {
	case ChainBitcoin:
		return 30 * time.Second
	case ChainEthereum, ChainPolygon:
		return 10 * time.Second
	default:
		return 30 * time.Second
	}
}

// ValidateAddress checks that addr is a well-formed destination for the chain
func (c Chain) ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address is empty")
	}
	switch c {
	case ChainBitcoin:
		if _, err := btcutil.DecodeAddress(addr, &chaincfg.MainNetParams); err != nil {
			return fmt.Errorf("invalid bitcoin address %q: %w", addr, err)
		}
		return nil
	case ChainEthereum, ChainPolygon:
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid EVM address %q", addr)
		}
		return nil
	default:
		return fmt.Errorf("unsupported chain: %s", c)
	}
}

// NormalizeAddress canonicalizes an address for watch-set comparisons.
// EVM addresses compare case-insensitively; bitcoin addresses are case
// sensitive except for the bech32 HRP, which DecodeAddress already handles.
func (c Chain) NormalizeAddress(addr string) string {
	if c.IsEVM() {
		return strings.ToLower(addr)
	}
	return addr
}
