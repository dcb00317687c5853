package bitcoin

import (
	"errors"

	"github.com/btcsuite/btcd/btcjson"
)

const btcjsonErrNoTxInfo = btcjson.ErrRPCNoTxInfo

func unwrapRPCError(err error) (*btcjson.RPCError, bool) {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}
