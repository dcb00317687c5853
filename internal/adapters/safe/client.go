package safe

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-resty/resty/v2"

	domainerrors "github.com/stacklayer/custody-service/internal/domain/errors"
	"github.com/stacklayer/custody-service/internal/infrastructure/config"
	"github.com/stacklayer/custody-service/pkg/logger"
)

// Client proposes transactions to a Safe via the Safe Transaction
// Service and tracks their execution. The service only relays; the
// Safe owners still have to sign and execute on chain.
type Client struct {
	http        *resty.Client
	safeAddress common.Address
	proposerKey *ecdsa.PrivateKey
	chainID     *big.Int
	logger      *logger.Logger
}

// Proposal is a native-asset transfer to propose to the Safe
type Proposal struct {
	To    common.Address
	Value *big.Int
}

// TxStatus is the service's view of a proposed transaction
type TxStatus struct {
	SafeTxHash    string
	Executed      bool
	Successful    bool
	OnChainTxHash string
}

type safeInfoResponse struct {
	Nonce int64 `json:"nonce"`
}

type multisigTxResponse struct {
	SafeTxHash      string `json:"safeTxHash"`
	IsExecuted      bool   `json:"isExecuted"`
	IsSuccessful    *bool  `json:"isSuccessful"`
	TransactionHash string `json:"transactionHash"`
}

// NewClient creates a Safe Transaction Service client
func NewClient(cfg config.SafeConfig, chainID *big.Int, log *logger.Logger) (*Client, error) {
	if !common.IsHexAddress(cfg.SafeAddress) {
		return nil, fmt.Errorf("invalid safe address %q", cfg.SafeAddress)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.ProposerKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid proposer key: %v", domainerrors.ErrInvalidKey, err)
	}

	http := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.ServiceURL, "/")).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second)

	return &Client{
		http:        http,
		safeAddress: common.HexToAddress(cfg.SafeAddress),
		proposerKey: key,
		chainID:     chainID,
		logger:      log,
	}, nil
}

// Propose submits a transfer to the transaction service and returns
// the safe transaction hash that identifies it.
func (c *Client) Propose(ctx context.Context, p Proposal) (string, error) {
	nonce, err := c.nextNonce(ctx)
	if err != nil {
		return "", err
	}

	safeTxHash := c.transactionHash(p, nonce)

	sig, err := crypto.Sign(safeTxHash.Bytes(), c.proposerKey)
	if err != nil {
		return "", domainerrors.SigningError(err)
	}
	// The service expects a legacy recovery id.
	sig[64] += 27

	sender := crypto.PubkeyToAddress(c.proposerKey.PublicKey)

	body := map[string]interface{}{
		"to":                      p.To.Hex(),
		"value":                   p.Value.String(),
		"data":                    nil,
		"operation":               0,
		"safeTxGas":               0,
		"baseGas":                 0,
		"gasPrice":                "0",
		"gasToken":                nil,
		"refundReceiver":          nil,
		"nonce":                   nonce,
		"contractTransactionHash": safeTxHash.Hex(),
		"sender":                  sender.Hex(),
		"signature":               hexutil.Encode(sig),
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(fmt.Sprintf("/api/v1/safes/%s/multisig-transactions/", c.safeAddress.Hex()))
	if err != nil {
		return "", fmt.Errorf("failed to propose safe transaction: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("safe service rejected proposal: %s: %s", resp.Status(), resp.String())
	}

	c.logger.Info("Proposed safe transaction",
		"safe_tx_hash", safeTxHash.Hex(),
		"to", p.To.Hex(),
		"nonce", nonce)

	return safeTxHash.Hex(), nil
}

// Status fetches the service's view of a proposed transaction
func (c *Client) Status(ctx context.Context, safeTxHash string) (*TxStatus, error) {
	var out multisigTxResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/api/v1/multisig-transactions/%s/", safeTxHash))
	if err != nil {
		return nil, fmt.Errorf("failed to get safe transaction: %w", err)
	}
	if resp.StatusCode() == 404 {
		return nil, domainerrors.ErrNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("safe service error: %s", resp.Status())
	}

	status := &TxStatus{
		SafeTxHash:    safeTxHash,
		Executed:      out.IsExecuted,
		OnChainTxHash: out.TransactionHash,
	}
	if out.IsSuccessful != nil {
		status.Successful = *out.IsSuccessful
	}
	return status, nil
}

func (c *Client) nextNonce(ctx context.Context) (int64, error) {
	var info safeInfoResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&info).
		Get(fmt.Sprintf("/api/v1/safes/%s/", c.safeAddress.Hex()))
	if err != nil {
		return 0, fmt.Errorf("failed to get safe info: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("safe service error: %s", resp.Status())
	}
	return info.Nonce, nil
}

var (
	domainTypehash = crypto.Keccak256([]byte("EIP712Domain(uint256 chainId,address verifyingContract)"))
	safeTxTypehash = crypto.Keccak256([]byte("SafeTx(address to,uint256 value,bytes data,uint8 operation,uint256 safeTxGas,uint256 baseGas,uint256 gasPrice,address gasToken,address refundReceiver,uint256 nonce)"))
	emptyDataHash  = crypto.Keccak256([]byte{})
)

// transactionHash computes the EIP-712 hash the Safe contract itself
// would compute for this transfer.
func (c *Client) transactionHash(p Proposal, nonce int64) common.Hash {
	domainSeparator := crypto.Keccak256(
		domainTypehash,
		common.LeftPadBytes(c.chainID.Bytes(), 32),
		common.LeftPadBytes(c.safeAddress.Bytes(), 32),
	)

	structHash := crypto.Keccak256(
		safeTxTypehash,
		common.LeftPadBytes(p.To.Bytes(), 32),
		common.LeftPadBytes(p.Value.Bytes(), 32),
		emptyDataHash,
		common.LeftPadBytes(nil, 32), // operation CALL
		common.LeftPadBytes(nil, 32), // safeTxGas
		common.LeftPadBytes(nil, 32), // baseGas
		common.LeftPadBytes(nil, 32), // gasPrice
		common.LeftPadBytes(nil, 32), // gasToken
		common.LeftPadBytes(nil, 32), // refundReceiver
		common.LeftPadBytes(big.NewInt(nonce).Bytes(), 32),
	)

	return common.BytesToHash(crypto.Keccak256([]byte{0x19, 0x01}, domainSeparator, structHash))
}
