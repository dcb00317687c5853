package chain_watcher_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklayer/custody-service/internal/domain/entities"
	domainerrors "github.com/stacklayer/custody-service/internal/domain/errors"
	"github.com/stacklayer/custody-service/internal/workers/chain_watcher"
	"github.com/stacklayer/custody-service/pkg/logger"
)

// fakeChain simulates a node: blocks indexed by height, each with a
// hash and the transfers it contains.
type fakeChain struct {
	tip       int64
	hashes    map[int64]string
	transfers map[int64][]entities.IncomingTransfer
}

func newFakeChain(tip int64) *fakeChain {
	c := &fakeChain{
		tip:       tip,
		hashes:    make(map[int64]string),
		transfers: make(map[int64][]entities.IncomingTransfer),
	}
	for h := int64(0); h <= tip; h++ {
		c.hashes[h] = fmt.Sprintf("hash-%d", h)
	}
	return c
}

func (c *fakeChain) TipHeight(ctx context.Context) (int64, error) {
	return c.tip, nil
}

func (c *fakeChain) BlockHashAt(ctx context.Context, height int64) (string, error) {
	hash, ok := c.hashes[height]
	if !ok {
		return "", fmt.Errorf("no block at height %d", height)
	}
	return hash, nil
}

func (c *fakeChain) ScanBlock(ctx context.Context, height int64, watched map[string]bool) ([]entities.IncomingTransfer, string, error) {
	var hits []entities.IncomingTransfer
	for _, t := range c.transfers[height] {
		if watched[t.Address] {
			hits = append(hits, t)
		}
	}
	return hits, c.hashes[height], nil
}

type fakeStore struct {
	mark     *entities.ChainWatermark
	deposits []*entities.Deposit
	rewinds  int

	// failFrom makes RecordBlock error at and above this height,
	// simulating a database failure partway through a batch.
	failFrom int64
}

func (s *fakeStore) RecordBlock(ctx context.Context, mark *entities.ChainWatermark, deposits []*entities.Deposit) error {
	if s.failFrom != 0 && mark.BlockHeight >= s.failFrom {
		return fmt.Errorf("record block %d: connection reset", mark.BlockHeight)
	}
	s.mark = mark
	s.deposits = append(s.deposits, deposits...)
	return nil
}

func (s *fakeStore) GetWatermark(ctx context.Context, chain entities.Chain) (*entities.ChainWatermark, error) {
	if s.mark == nil {
		return nil, domainerrors.ErrNotFound
	}
	return s.mark, nil
}

func (s *fakeStore) RewindWatermark(ctx context.Context, chain entities.Chain, height int64, hash string) error {
	s.rewinds++
	s.mark = &entities.ChainWatermark{Chain: chain, BlockHeight: height, BlockHash: hash}
	return nil
}

type fakeBook struct {
	addresses map[string]*entities.DepositAddress
}

func (b *fakeBook) WatchedAddresses(ctx context.Context, chain entities.Chain) (map[string]*entities.DepositAddress, error) {
	return b.addresses, nil
}

func watcherConfig() chain_watcher.Config {
	return chain_watcher.Config{
		Chain:         entities.ChainEthereum,
		StartBlock:    100,
		ReorgDepth:    3,
		Confirmations: 12,
	}
}

func transfer(address string, height int64) entities.IncomingTransfer {
	return entities.IncomingTransfer{
		TxHash:      fmt.Sprintf("tx-%d-%s", height, address),
		Address:     address,
		AssetID:     "ETH",
		Amount:      decimal.NewFromInt(1),
		BlockHeight: height,
	}
}

func TestRunOnceScansFromStartBlock(t *testing.T) {
	chain := newFakeChain(105)
	store := &fakeStore{}
	owner := &entities.DepositAddress{ID: uuid.New(), UserID: uuid.New(), Address: "0xwatch"}
	book := &fakeBook{addresses: map[string]*entities.DepositAddress{"0xwatch": owner}}
	chain.transfers[102] = []entities.IncomingTransfer{transfer("0xwatch", 102)}
	chain.transfers[103] = []entities.IncomingTransfer{transfer("0xother", 103)}

	w := chain_watcher.NewWorker(watcherConfig(), chain, store, book, logger.NewNop())
	require.NoError(t, w.RunOnce(context.Background()))

	// Watermark sits at the tip after a full scan.
	require.NotNil(t, store.mark)
	assert.Equal(t, int64(105), store.mark.BlockHeight)
	assert.Equal(t, "hash-105", store.mark.BlockHash)

	// Only the watched address produced a deposit.
	require.Len(t, store.deposits, 1)
	d := store.deposits[0]
	assert.Equal(t, owner.UserID, d.UserID)
	assert.Equal(t, "tx-102-0xwatch", d.TxHash)
	assert.Equal(t, int64(102), d.BlockHeight)
	assert.Equal(t, entities.DepositStatusPending, d.Status)
	assert.Equal(t, int64(12), d.RequiredConfirmations)
	// tip 105, block 102: four confirmations.
	assert.Equal(t, int64(4), d.CurrentConfirmations)
}

func TestRunOnceResumesFromWatermark(t *testing.T) {
	chain := newFakeChain(110)
	store := &fakeStore{}
	book := &fakeBook{addresses: map[string]*entities.DepositAddress{}}

	w := chain_watcher.NewWorker(watcherConfig(), chain, store, book, logger.NewNop())
	require.NoError(t, w.RunOnce(context.Background()))
	require.Equal(t, int64(110), store.mark.BlockHeight)

	// Nothing new: the next run records no additional blocks.
	chainBefore := store.mark
	require.NoError(t, w.RunOnce(context.Background()))
	assert.Equal(t, chainBefore.BlockHeight, store.mark.BlockHeight)

	// New blocks extend the scan.
	chain.tip = 112
	chain.hashes[111] = "hash-111"
	chain.hashes[112] = "hash-112"
	require.NoError(t, w.RunOnce(context.Background()))
	assert.Equal(t, int64(112), store.mark.BlockHeight)
}

func TestRunOnceRewindsOnReorg(t *testing.T) {
	chain := newFakeChain(110)
	store := &fakeStore{}
	owner := &entities.DepositAddress{ID: uuid.New(), UserID: uuid.New(), Address: "0xwatch"}
	book := &fakeBook{addresses: map[string]*entities.DepositAddress{"0xwatch": owner}}

	w := chain_watcher.NewWorker(watcherConfig(), chain, store, book, logger.NewNop())
	require.NoError(t, w.RunOnce(context.Background()))
	require.Equal(t, int64(110), store.mark.BlockHeight)

	// The chain reorganizes: the recorded block's hash changes and a
	// deposit appears in a replacement block.
	chain.hashes[110] = "hash-110-prime"
	chain.hashes[109] = "hash-109-prime"
	chain.transfers[109] = []entities.IncomingTransfer{transfer("0xwatch", 109)}

	require.NoError(t, w.RunOnce(context.Background()))

	assert.Equal(t, 1, store.rewinds)
	// Rewound to 110-3=107, then re-scanned back up to the tip.
	assert.Equal(t, int64(110), store.mark.BlockHeight)
	assert.Equal(t, "hash-110-prime", store.mark.BlockHash)

	require.Len(t, store.deposits, 1)
	assert.Equal(t, int64(109), store.deposits[0].BlockHeight)
}

func TestRunOnceFailedBatchHoldsWatermark(t *testing.T) {
	chain := newFakeChain(105)
	store := &fakeStore{failFrom: 103}
	owner := &entities.DepositAddress{ID: uuid.New(), UserID: uuid.New(), Address: "0xwatch"}
	book := &fakeBook{addresses: map[string]*entities.DepositAddress{"0xwatch": owner}}
	chain.transfers[104] = []entities.IncomingTransfer{transfer("0xwatch", 104)}

	w := chain_watcher.NewWorker(watcherConfig(), chain, store, book, logger.NewNop())
	err := w.RunOnce(context.Background())
	require.Error(t, err)

	// Blocks before the failure are recorded; the watermark stops at
	// the last block that fully persisted and never skips ahead.
	require.NotNil(t, store.mark)
	assert.Equal(t, int64(102), store.mark.BlockHeight)
	assert.Empty(t, store.deposits)

	// Once the store recovers, the scan resumes at the failed block
	// and picks up the deposit it never saw.
	store.failFrom = 0
	require.NoError(t, w.RunOnce(context.Background()))
	assert.Equal(t, int64(105), store.mark.BlockHeight)
	require.Len(t, store.deposits, 1)
	assert.Equal(t, int64(104), store.deposits[0].BlockHeight)
}

func TestRunOnceReorgNeverRewindsPastStartBlock(t *testing.T) {
	cfg := watcherConfig()
	cfg.ReorgDepth = 50

	chain := newFakeChain(103)
	store := &fakeStore{}
	book := &fakeBook{addresses: map[string]*entities.DepositAddress{}}

	w := chain_watcher.NewWorker(cfg, chain, store, book, logger.NewNop())
	require.NoError(t, w.RunOnce(context.Background()))

	chain.hashes[103] = "hash-103-prime"
	require.NoError(t, w.RunOnce(context.Background()))

	assert.Equal(t, 1, store.rewinds)
	assert.Equal(t, int64(103), store.mark.BlockHeight)
}
