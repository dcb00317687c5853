package hdwallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/stacklayer/custody-service/internal/domain/entities"
	domainerrors "github.com/stacklayer/custody-service/internal/domain/errors"
)

// Deriver produces deposit addresses from per-chain extended public
// keys. Only public derivation is possible here; no private key
// material is ever loaded into this process for deposit addresses.
type Deriver struct {
	params *chaincfg.Params
	keys   map[entities.Chain]*hdkeychain.ExtendedKey
}

// New parses the configured xpubs and returns a deriver. Keys that
// contain private material are rejected.
func New(xpubs map[entities.Chain]string, params *chaincfg.Params) (*Deriver, error) {
	if params == nil {
		params = &chaincfg.MainNetParams
	}

	keys := make(map[entities.Chain]*hdkeychain.ExtendedKey, len(xpubs))
	for chain, xpub := range xpubs {
		key, err := hdkeychain.NewKeyFromString(xpub)
		if err != nil {
			return nil, fmt.Errorf("%w: chain %s: %v", domainerrors.ErrInvalidKey, chain, err)
		}
		if key.IsPrivate() {
			return nil, fmt.Errorf("%w: chain %s: private key supplied where xpub expected", domainerrors.ErrInvalidKey, chain)
		}
		keys[chain] = key
	}

	return &Deriver{params: params, keys: keys}, nil
}

// Derive returns the deposit address for the chain at the given child
// index. Derivation is deterministic: the same (chain, index) always
// yields the same address.
func (d *Deriver) Derive(chain entities.Chain, index uint32) (string, error) {
	key, ok := d.keys[chain]
	if !ok {
		return "", fmt.Errorf("%w: no extended key configured for chain %s", domainerrors.ErrInvalidKey, chain)
	}

	child, err := key.Derive(index)
	if err != nil {
		return "", fmt.Errorf("failed to derive child %d for %s: %w", index, chain, err)
	}

	pub, err := child.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("failed to extract public key: %w", err)
	}

	if chain.IsEVM() {
		addr := crypto.PubkeyToAddress(*pub.ToECDSA())
		return chain.NormalizeAddress(addr.Hex()), nil
	}

	witness, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), d.params)
	if err != nil {
		return "", fmt.Errorf("failed to build p2wpkh address: %w", err)
	}
	return witness.EncodeAddress(), nil
}

// Chains lists the chains this deriver has keys for
func (d *Deriver) Chains() []entities.Chain {
	out := make([]entities.Chain, 0, len(d.keys))
	for chain := range d.keys {
		out = append(out, chain)
	}
	return out
}
