package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/stacklayer/custody-service/internal/domain/entities"
	domainerrors "github.com/stacklayer/custody-service/internal/domain/errors"
	"github.com/stacklayer/custody-service/internal/infrastructure/config"
	"github.com/stacklayer/custody-service/pkg/circuitbreaker"
	"github.com/stacklayer/custody-service/pkg/logger"
)

// weiDecimals converts base units to the asset's natural unit.
const weiDecimals = -18

// Client talks to an EVM node over JSON-RPC. One client serves one
// chain; ethereum and polygon get separate instances.
type Client struct {
	eth     *ethclient.Client
	chain   entities.Chain
	chainID *big.Int
	breaker *circuitbreaker.Breaker
	logger  *logger.Logger
}

// NewClient dials the configured node and verifies its chain ID
func NewClient(ctx context.Context, chain entities.Chain, cfg config.ChainConfig, log *logger.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPC)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s node: %w", chain, err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Int64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("node reports chain id %d, config expects %d", chainID.Int64(), cfg.ChainID)
	}

	return &Client{
		eth:     eth,
		chain:   chain,
		chainID: chainID,
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig(string(chain) + "-rpc")),
		logger:  log,
	}, nil
}

// Chain returns the chain this client serves
func (c *Client) Chain() entities.Chain {
	return c.chain
}

// ChainID returns the node's chain ID
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// TipHeight returns the node's latest block number
func (c *Client) TipHeight(ctx context.Context) (int64, error) {
	var tip uint64
	err := c.breaker.Execute(ctx, func() error {
		var err error
		tip, err = c.eth.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get block number: %w", err)
	}
	return int64(tip), nil
}

// BlockHashAt returns the block hash at a height
func (c *Client) BlockHashAt(ctx context.Context, height int64) (string, error) {
	var header *types.Header
	err := c.breaker.Execute(ctx, func() error {
		var err error
		header, err = c.eth.HeaderByNumber(ctx, big.NewInt(height))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to get header at %d: %w", height, err)
	}
	return header.Hash().Hex(), nil
}

// ScanBlock returns native-asset transfers into watched addresses in
// the block at the given height. Watched keys are lowercased hex.
func (c *Client) ScanBlock(ctx context.Context, height int64, watched map[string]bool) ([]entities.IncomingTransfer, string, error) {
	var block *types.Block
	err := c.breaker.Execute(ctx, func() error {
		var err error
		block, err = c.eth.BlockByNumber(ctx, big.NewInt(height))
		return err
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to get block %d: %w", height, err)
	}

	var transfers []entities.IncomingTransfer
	for _, tx := range block.Transactions() {
		to := tx.To()
		if to == nil || tx.Value().Sign() <= 0 {
			continue
		}
		addr := c.chain.NormalizeAddress(to.Hex())
		if !watched[addr] {
			continue
		}
		transfers = append(transfers, entities.IncomingTransfer{
			TxHash:      tx.Hash().Hex(),
			OutputIndex: 0,
			Address:     addr,
			AssetID:     c.chain.NativeAsset(),
			Amount:      decimal.NewFromBigInt(tx.Value(), weiDecimals),
			BlockHeight: height,
		})
	}

	return transfers, block.Hash().Hex(), nil
}

// TxConfirmations returns the confirmation count for a mined
// transaction. An unknown transaction maps to ErrNotFound; a mined but
// reverted transaction maps to ErrBroadcast so callers fail the
// withdrawal instead of waiting forever.
func (c *Client) TxConfirmations(ctx context.Context, txHash string) (int64, error) {
	var receipt *types.Receipt
	err := c.breaker.Execute(ctx, func() error {
		var err error
		receipt, err = c.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
		return err
	})
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return 0, domainerrors.ErrNotFound
		}
		return 0, fmt.Errorf("failed to get receipt for %s: %w", txHash, err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return 0, fmt.Errorf("%w: transaction %s reverted", domainerrors.ErrBroadcast, txHash)
	}

	tip, err := c.TipHeight(ctx)
	if err != nil {
		return 0, err
	}

	confirmations := tip - receipt.BlockNumber.Int64() + 1
	if confirmations < 0 {
		confirmations = 0
	}
	return confirmations, nil
}

// PendingNonceAt returns the next nonce for an address
func (c *Client) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	var nonce uint64
	err := c.breaker.Execute(ctx, func() error {
		var err error
		nonce, err = c.eth.PendingNonceAt(ctx, addr)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get pending nonce: %w", err)
	}
	return nonce, nil
}

// SuggestGasPrice returns the node's suggested gas price
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := c.breaker.Execute(ctx, func() error {
		var err error
		price, err = c.eth.SuggestGasPrice(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas price: %w", err)
	}
	return price, nil
}

// SendTransaction broadcasts a signed transaction
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	err := c.breaker.Execute(ctx, func() error {
		return c.eth.SendTransaction(ctx, tx)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domainerrors.ErrBroadcast, err)
	}
	return nil
}

// BalanceAt returns an address balance in the chain's natural unit
func (c *Client) BalanceAt(ctx context.Context, addr common.Address) (decimal.Decimal, error) {
	var wei *big.Int
	err := c.breaker.Execute(ctx, func() error {
		var err error
		wei, err = c.eth.BalanceAt(ctx, addr, nil)
		return err
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return decimal.NewFromBigInt(wei, weiDecimals), nil
}

// Close shuts down the RPC client
func (c *Client) Close() {
	c.eth.Close()
}
