package bitcoin

import (
	"context"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/shopspring/decimal"

	"github.com/stacklayer/custody-service/internal/domain/entities"
	domainerrors "github.com/stacklayer/custody-service/internal/domain/errors"
	"github.com/stacklayer/custody-service/internal/infrastructure/config"
	"github.com/stacklayer/custody-service/pkg/circuitbreaker"
	"github.com/stacklayer/custody-service/pkg/logger"
)

// Client talks to a Bitcoin Core node over JSON-RPC. All calls go
// through a circuit breaker so a flapping node does not stall the
// watchers behind long timeout chains.
type Client struct {
	rpc     *rpcclient.Client
	params  *chaincfg.Params
	breaker *circuitbreaker.Breaker
	logger  *logger.Logger
}

// NewClient connects to the configured node
func NewClient(cfg config.ChainConfig, network string, log *logger.Logger) (*Client, error) {
	params := &chaincfg.MainNetParams
	switch network {
	case "testnet", "testnet3":
		params = &chaincfg.TestNet3Params
	case "regtest":
		params = &chaincfg.RegressionNetParams
	}

	rpc, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         strings.TrimPrefix(strings.TrimPrefix(cfg.RPC, "http://"), "https://"),
		User:         cfg.RPCUser,
		Pass:         cfg.RPCPassword,
		HTTPPostMode: true,
		DisableTLS:   !strings.HasPrefix(cfg.RPC, "https://"),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create bitcoin rpc client: %w", err)
	}

	return &Client{
		rpc:     rpc,
		params:  params,
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig("bitcoin-rpc")),
		logger:  log,
	}, nil
}

// Chain returns the chain this client serves
func (c *Client) Chain() entities.Chain {
	return entities.ChainBitcoin
}

// TipHeight returns the node's best block height
func (c *Client) TipHeight(ctx context.Context) (int64, error) {
	var height int64
	err := c.breaker.Execute(ctx, func() error {
		var err error
		height, err = c.rpc.GetBlockCount()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get block count: %w", err)
	}
	return height, nil
}

// BlockHashAt returns the block hash at a height
func (c *Client) BlockHashAt(ctx context.Context, height int64) (string, error) {
	var hash *chainhash.Hash
	err := c.breaker.Execute(ctx, func() error {
		var err error
		hash, err = c.rpc.GetBlockHash(height)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to get block hash at %d: %w", height, err)
	}
	return hash.String(), nil
}

// ScanBlock returns transfers into watched addresses in the block at
// the given height, along with the block's hash.
func (c *Client) ScanBlock(ctx context.Context, height int64, watched map[string]bool) ([]entities.IncomingTransfer, string, error) {
	hash, err := c.BlockHashAt(ctx, height)
	if err != nil {
		return nil, "", err
	}

	blockHash, err := chainhash.NewHashFromStr(hash)
	if err != nil {
		return nil, "", fmt.Errorf("invalid block hash %s: %w", hash, err)
	}

	var transfers []entities.IncomingTransfer
	err = c.breaker.Execute(ctx, func() error {
		block, err := c.rpc.GetBlockVerboseTx(blockHash)
		if err != nil {
			return err
		}

		transfers = transfers[:0]
		for _, tx := range block.Tx {
			for _, vout := range tx.Vout {
				addr := vout.ScriptPubKey.Address
				if addr == "" && len(vout.ScriptPubKey.Addresses) > 0 {
					addr = vout.ScriptPubKey.Addresses[0]
				}
				if addr == "" || !watched[addr] {
					continue
				}
				amount, err := AmountFromBTC(vout.Value)
				if err != nil {
					return fmt.Errorf("output %s:%d: %w", tx.Txid, vout.N, err)
				}
				transfers = append(transfers, entities.IncomingTransfer{
					TxHash:      tx.Txid,
					OutputIndex: int(vout.N),
					Address:     addr,
					AssetID:     entities.ChainBitcoin.NativeAsset(),
					Amount:      amount,
					BlockHeight: height,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to scan block %d: %w", height, err)
	}

	return transfers, hash, nil
}

// AmountFromBTC converts a node-reported BTC value to a decimal via
// whole satoshis. Going through decimal.NewFromFloat directly would
// carry float64 representation noise into the ledger.
func AmountFromBTC(value float64) (decimal.Decimal, error) {
	sats, err := btcutil.NewAmount(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid btc amount %v: %w", value, err)
	}
	return decimal.New(int64(sats), -8), nil
}

// TxConfirmations returns the confirmation count for a transaction.
// A transaction the node no longer knows about, typically one that was
// reorged out and never re-mined, maps to ErrNotFound.
func (c *Client) TxConfirmations(ctx context.Context, txHash string) (int64, error) {
	hash, err := chainhash.NewHashFromStr(txHash)
	if err != nil {
		return 0, fmt.Errorf("invalid tx hash %s: %w", txHash, err)
	}

	var confirmations int64
	err = c.breaker.Execute(ctx, func() error {
		tx, err := c.rpc.GetRawTransactionVerbose(hash)
		if err != nil {
			return err
		}
		confirmations = int64(tx.Confirmations)
		return nil
	})
	if err != nil {
		if rpcErr, ok := unwrapRPCError(err); ok && rpcErr.Code == btcjsonErrNoTxInfo {
			return 0, domainerrors.ErrNotFound
		}
		return 0, fmt.Errorf("failed to get tx %s: %w", txHash, err)
	}

	return confirmations, nil
}

// Close shuts down the RPC client
func (c *Client) Close() {
	c.rpc.Shutdown()
}
