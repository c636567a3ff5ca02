package utils

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/OnGridSystems/erc20-airdrop-cli/airdrop"
)

var (
	_ airdrop.Chain = (*EthClient)(nil)
)

// EthClient wraps the ethereum client with per-call timeouts and receipt polling
type EthClient struct {
	*ethclient.Client
	rpcClient *rpc.Client

	timeout      time.Duration
	pollInterval time.Duration
}

// createHTTPClient creates the HTTP client used for every JSON-RPC request
func createHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
		DisableKeepAlives:   false,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// NewEthClient dials the endpoint. timeout bounds every single request,
// pollInterval is the receipt polling period.
func NewEthClient(ctx context.Context, endpoint string, timeout, pollInterval time.Duration) (*EthClient, error) {
	rpcClient, err := rpc.DialOptions(ctx, endpoint, rpc.WithHTTPClient(createHTTPClient(timeout)))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rpc client: %+v", err)
	}

	return &EthClient{
		Client:       ethclient.NewClient(rpcClient),
		rpcClient:    rpcClient,
		timeout:      timeout,
		pollInterval: pollInterval,
	}, nil
}

func (e *EthClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeout)
}

// ChainID queries eth_chainId
func (e *EthClient) ChainID(ctx context.Context) (*big.Int, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.Client.ChainID(ctx)
}

// BalanceAt queries the latest ETH balance
func (e *EthClient) BalanceAt(ctx context.Context, addr ethcmn.Address) (*big.Int, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.Client.BalanceAt(ctx, addr, nil)
}

// TransactionCount queries the pending nonce for the given address
func (e *EthClient) TransactionCount(ctx context.Context, addr ethcmn.Address) (uint64, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.PendingNonceAt(ctx, addr)
}

// CallContract executes eth_call against the latest block
func (e *EthClient) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.Client.CallContract(ctx, msg, nil)
}

// EstimateGas executes eth_estimateGas
func (e *EthClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.Client.EstimateGas(ctx, msg)
}

// SendRawTransaction broadcasts an already signed transaction
func (e *EthClient) SendRawTransaction(ctx context.Context, raw []byte) (ethcmn.Hash, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var hash ethcmn.Hash
	if err := e.rpcClient.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Bytes(raw)); err != nil {
		return ethcmn.Hash{}, err
	}
	return hash, nil
}

// HasTransaction reports whether the node knows hash, either pooled or mined
func (e *EthClient) HasTransaction(ctx context.Context, hash ethcmn.Hash) (bool, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	_, _, err := e.Client.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// WaitForReceipt polls eth_getTransactionReceipt until the receipt shows up or
// ctx expires
func (e *EthClient) WaitForReceipt(ctx context.Context, hash ethcmn.Hash) (*types.Receipt, error) {
	return WaitTxReceipt(ctx, e, hash, e.pollInterval)
}

// receiptFetcher is implemented by *EthClient; tests swap in a stub
type receiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash ethcmn.Hash) (*types.Receipt, error)
}

// TransactionReceipt queries one receipt, bounded by the request timeout
func (e *EthClient) TransactionReceipt(ctx context.Context, hash ethcmn.Hash) (*types.Receipt, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.Client.TransactionReceipt(ctx, hash)
}
