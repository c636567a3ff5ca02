package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcmn "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/time/rate"
)

var (
	// ErrTimeoutReached is returned when the deadline passes before the
	// condition is met
	ErrTimeoutReached = fmt.Errorf("timeout has been reached")
)

// ConditionFunc is polled until it reports done or fails
type ConditionFunc func(ctx context.Context) (done bool, err error)

// Poll runs condition at most once per interval until it succeeds, fails or
// ctx expires. The first attempt happens immediately.
func Poll(ctx context.Context, interval time.Duration, condition ConditionFunc) error {
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return timeoutErr(ctx, err)
		}
		ok, err := condition(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return timeoutErr(ctx, err)
			}
			return err
		}
		if ok {
			return nil
		}
	}
}

func timeoutErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeoutReached
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	// rate.Limiter.Wait refuses up front when the wait would pass the deadline.
	return ErrTimeoutReached
}

// WaitTxReceipt polls for the receipt of txHash until it is found or ctx expires
func WaitTxReceipt(ctx context.Context, client receiptFetcher, txHash ethcmn.Hash, interval time.Duration) (*types.Receipt, error) {
	if client == nil {
		return nil, fmt.Errorf("client is nil")
	}
	var receipt *types.Receipt
	pollErr := Poll(ctx, interval, func(ctx context.Context) (bool, error) {
		var err error
		receipt, err = client.TransactionReceipt(ctx, txHash)
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				log.Trace("Receipt not yet available", "hash", txHash)
				return false, nil
			}
			return false, err
		}
		return true, nil
	})
	if pollErr != nil {
		return nil, pollErr
	}
	return receipt, nil
}
