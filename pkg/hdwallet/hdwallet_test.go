package hdwallet

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklayer/custody-service/internal/domain/entities"
	domainerrors "github.com/stacklayer/custody-service/internal/domain/errors"
)

// Well-known test vector xpub (BIP32 test vector 1, chain m/0H public).
const testXpub = "xpub68Gmy5EdvgibQVfPdqkBBCHxA5htiqg55crXYuXoQRKfDBFA1WEjWgP6LHhwBZeNK1VTsfTFUHCdrfp1bgwQ9xv5ski8PX9rL2dZXvgGDnw"

func newTestDeriver(t *testing.T) *Deriver {
	t.Helper()
	d, err := New(map[entities.Chain]string{
		entities.ChainBitcoin:  testXpub,
		entities.ChainEthereum: testXpub,
	}, nil)
	require.NoError(t, err)
	return d
}

func TestNewRejectsInvalidKey(t *testing.T) {
	_, err := New(map[entities.Chain]string{
		entities.ChainBitcoin: "not-an-xpub",
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domainerrors.ErrInvalidKey)
}

func TestDeriveIsDeterministic(t *testing.T) {
	d1 := newTestDeriver(t)
	d2 := newTestDeriver(t)

	for _, chain := range []entities.Chain{entities.ChainBitcoin, entities.ChainEthereum} {
		a1, err := d1.Derive(chain, 7)
		require.NoError(t, err)
		a2, err := d2.Derive(chain, 7)
		require.NoError(t, err)
		assert.Equal(t, a1, a2, "same index must derive the same address on %s", chain)
	}
}

func TestDeriveDistinctAcrossIndexes(t *testing.T) {
	d := newTestDeriver(t)

	seen := make(map[string]bool)
	for i := uint32(0); i < 20; i++ {
		addr, err := d.Derive(entities.ChainEthereum, i)
		require.NoError(t, err)
		assert.False(t, seen[addr], "index %d produced a duplicate address", i)
		seen[addr] = true
	}
}

func TestDeriveAddressFormats(t *testing.T) {
	d := newTestDeriver(t)

	btcAddr, err := d.Derive(entities.ChainBitcoin, 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(btcAddr, "bc1"), "expected bech32 mainnet address, got %s", btcAddr)
	require.NoError(t, entities.ChainBitcoin.ValidateAddress(btcAddr))

	ethAddr, err := d.Derive(entities.ChainEthereum, 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ethAddr, "0x"))
	assert.Len(t, ethAddr, 42)
	assert.Equal(t, strings.ToLower(ethAddr), ethAddr, "evm addresses are stored lowercased")
	require.NoError(t, entities.ChainEthereum.ValidateAddress(ethAddr))
}

func TestDeriveUnknownChain(t *testing.T) {
	d, err := New(map[entities.Chain]string{entities.ChainBitcoin: testXpub}, nil)
	require.NoError(t, err)

	_, err = d.Derive(entities.ChainEthereum, 0)
	require.Error(t, err)
}
