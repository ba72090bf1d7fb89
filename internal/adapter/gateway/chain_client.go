package gateway

import (
	"context"
	"errors"
	"fmt"

	"face-checkout-core/internal/core/ports"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// ethReader is the subset of ethclient.Client the chain reader depends on,
// declared as an interface so tests can substitute a stub node.
type ethReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// ChainReader resolves transfer status against an EVM JSON-RPC endpoint.
// It implements ports.ChainClient.
type ChainReader struct {
	eth ethReader
	log zerolog.Logger
}

// NewChainReader dials the JSON-RPC endpoint and returns a chain reader.
func NewChainReader(ctx context.Context, rpcURL string, log zerolog.Logger) (*ChainReader, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	log.Info().Str("rpc_url", rpcURL).Msg("Chain RPC connection established")
	return &ChainReader{eth: client, log: log}, nil
}

// TxStatus reports whether the transfer is mined, whether it reverted, and
// how deep it is. A transaction the node has not seen yet is not an error;
// it comes back with Found false so the watcher keeps polling.
func (r *ChainReader) TxStatus(ctx context.Context, txHash string) (*ports.ChainTxStatus, error) {
	receipt, err := r.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return &ports.ChainTxStatus{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch receipt: %w", err)
	}

	if receipt.Status == types.ReceiptStatusFailed {
		return &ports.ChainTxStatus{Found: true, Failed: true}, nil
	}

	head, err := r.eth.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch head block: %w", err)
	}

	// A reorg can briefly leave the receipt block past the head.
	var confirmations uint64
	if mined := receipt.BlockNumber.Uint64(); head >= mined {
		confirmations = head - mined + 1
	}

	return &ports.ChainTxStatus{Found: true, Confirmations: confirmations}, nil
}
