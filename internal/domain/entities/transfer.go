package entities

import "github.com/shopspring/decimal"

// IncomingTransfer is a chain-agnostic view of a payment into a
// watched address, as reported by a chain client. Amounts are in the
// asset's natural unit (BTC, ETH), not base units.
type IncomingTransfer struct {
	TxHash      string
	OutputIndex int
	Address     string
	AssetID     string
	Amount      decimal.Decimal
	BlockHeight int64
}
