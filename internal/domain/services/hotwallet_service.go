package services

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/stacklayer/custody-service/internal/domain/entities"
	domainerrors "github.com/stacklayer/custody-service/internal/domain/errors"
	"github.com/stacklayer/custody-service/internal/infrastructure/config"
	"github.com/stacklayer/custody-service/pkg/logger"
	"github.com/stacklayer/custody-service/pkg/security"
)

// EVMClient is the node surface the hot wallet needs
type EVMClient interface {
	ChainID() *big.Int
	PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	BalanceAt(ctx context.Context, addr common.Address) (decimal.Decimal, error)
}

// HotWalletService signs and broadcasts withdrawals from the hot
// wallet key. It serves EVM chains only; everything else goes through
// the multisig path.
type HotWalletService struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	clients  map[entities.Chain]EVMClient
	gasLimit uint64
	maxGas   *big.Int
	logger   *logger.Logger

	// One nonce mutex per chain: concurrent sends on the same chain
	// must allocate nonces in order or the node drops them.
	nonceMu map[entities.Chain]*sync.Mutex
}

// NewHotWalletService creates a hot wallet service from config
func NewHotWalletService(cfg config.HotWalletConfig, clients map[entities.Chain]EVMClient, logger *logger.Logger) (*HotWalletService, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hot wallet key: %v", domainerrors.ErrInvalidKey, err)
	}

	maxGas := new(big.Int)
	if cfg.MaxGasPriceWei != "" {
		if _, ok := maxGas.SetString(cfg.MaxGasPriceWei, 10); !ok {
			return nil, fmt.Errorf("invalid max gas price %q", cfg.MaxGasPriceWei)
		}
	}

	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = 21000
	}

	nonceMu := make(map[entities.Chain]*sync.Mutex, len(clients))
	for chain := range clients {
		nonceMu[chain] = &sync.Mutex{}
	}

	return &HotWalletService{
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		clients:  clients,
		gasLimit: gasLimit,
		maxGas:   maxGas,
		logger:   logger,
		nonceMu:  nonceMu,
	}, nil
}

// Address returns the hot wallet's address
func (s *HotWalletService) Address() common.Address {
	return s.address
}

// Supports reports whether the hot wallet can send on a chain
func (s *HotWalletService) Supports(chain entities.Chain) bool {
	_, ok := s.clients[chain]
	return ok
}

// Send signs and broadcasts a native-asset transfer, returning the
// transaction hash. Signing failures are fatal; broadcast failures are
// retryable and wrapped as ErrBroadcast.
func (s *HotWalletService) Send(ctx context.Context, chain entities.Chain, destination string, amount decimal.Decimal) (string, error) {
	client, ok := s.clients[chain]
	if !ok {
		return "", fmt.Errorf("hot wallet does not serve chain %s", chain)
	}
	if err := chain.ValidateAddress(destination); err != nil {
		return "", domainerrors.ValidationError("destination", err.Error())
	}

	wei := amount.Shift(18).BigInt()
	if wei.Sign() <= 0 {
		return "", domainerrors.ValidationError("amount", "must be positive")
	}

	mu := s.nonceMu[chain]
	mu.Lock()
	defer mu.Unlock()

	nonce, err := client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", domainerrors.BroadcastError(err)
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return "", domainerrors.BroadcastError(err)
	}
	if s.maxGas.Sign() > 0 && gasPrice.Cmp(s.maxGas) > 0 {
		gasPrice = new(big.Int).Set(s.maxGas)
	}

	tx := types.NewTransaction(nonce, common.HexToAddress(destination), wei, s.gasLimit, gasPrice, nil)

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(client.ChainID()), s.key)
	if err != nil {
		return "", domainerrors.SigningError(err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return "", domainerrors.BroadcastError(err)
	}

	txHash := signed.Hash().Hex()
	s.logger.Info("Hot wallet broadcast",
		"chain", chain,
		"tx_hash", txHash,
		"destination", security.MaskAddress(destination),
		"amount", amount,
		"nonce", nonce)

	return txHash, nil
}

// Balance returns the hot wallet's on-chain balance for a chain
func (s *HotWalletService) Balance(ctx context.Context, chain entities.Chain) (decimal.Decimal, error) {
	client, ok := s.clients[chain]
	if !ok {
		return decimal.Zero, fmt.Errorf("hot wallet does not serve chain %s", chain)
	}
	return client.BalanceAt(ctx, s.address)
}
