// Package erc20 implements the asset ledger against ERC20 token contracts on
// an EVM chain. Reads go through eth_call; pulls are transferFrom transactions
// signed with the collector key.
package erc20

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"token-collector/internal/interfaces"
	"token-collector/internal/rpc"
)

const tokenABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

var (
	ErrWrongSpender = errors.New("spender is not the ledger signer")
	ErrReverted     = errors.New("transaction reverted")
)

var (
	_ interfaces.AssetLedger  = (*Ledger)(nil)
	_ interfaces.HeadReporter = (*Ledger)(nil)
)

// Backend is what the ledger needs from a node; *ethclient.Client satisfies it
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
}

type Options struct {
	ChainID        *big.Int
	MaxRetries     int
	RetryDelay     time.Duration
	ReceiptTimeout time.Duration
	ExplorerURL    string
}

type Ledger struct {
	backend Backend
	abi     abi.ABI
	signer  *bind.TransactOpts
	opts    Options
	logger  *zerolog.Logger

	// txMu keeps nonces in submission order
	txMu sync.Mutex
}

func NewLedger(backend Backend, key *ecdsa.PrivateKey, opts Options, logger *zerolog.Logger) (*Ledger, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if key == nil {
		return nil, errors.New("signing key is required")
	}
	if opts.ChainID == nil {
		return nil, errors.New("chain id is required")
	}

	parsed, err := abi.JSON(strings.NewReader(tokenABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token ABI: %w", err)
	}

	signer, err := bind.NewKeyedTransactorWithChainID(key, opts.ChainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}

	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = 2 * time.Minute
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Ledger{
		backend: backend,
		abi:     parsed,
		signer:  signer,
		opts:    opts,
		logger:  logger,
	}, nil
}

// ParseKey decodes a hex private key, with or without 0x prefix
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// Address is the account that signs pulls; users approve it as spender
func (l *Ledger) Address() common.Address {
	return l.signer.From
}

func (l *Ledger) Name() string {
	return "erc20"
}

func (l *Ledger) BlockHead(ctx context.Context) (uint64, error) {
	return l.backend.BlockNumber(ctx)
}

func (l *Ledger) contract(asset common.Address) *bind.BoundContract {
	return bind.NewBoundContract(asset, l.abi, l.backend, l.backend, l.backend)
}

func (l *Ledger) BalanceOf(ctx context.Context, asset, holder common.Address) (*big.Int, error) {
	return l.callUint(ctx, asset, "balanceOf", holder)
}

func (l *Ledger) Allowance(ctx context.Context, asset, holder, spender common.Address) (*big.Int, error) {
	return l.callUint(ctx, asset, "allowance", holder, spender)
}

func (l *Ledger) callUint(ctx context.Context, asset common.Address, method string, params ...interface{}) (*big.Int, error) {
	var value *big.Int
	err := rpc.Retry(ctx, l.opts.MaxRetries, l.opts.RetryDelay, func() error {
		var out []interface{}
		if err := l.contract(asset).Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
			return err
		}
		if len(out) != 1 {
			return fmt.Errorf("%s returned %d values", method, len(out))
		}
		v, ok := out[0].(*big.Int)
		if !ok {
			return fmt.Errorf("%s returned %T", method, out[0])
		}
		value = v
		return nil
	})
	if err != nil {
		l.logger.Error().
			Err(err).
			Str("asset", asset.Hex()).
			Str("method", method).
			Msg("Token call failed")
		return nil, fmt.Errorf("%s on %s: %w", method, asset.Hex(), err)
	}
	return value, nil
}

// TransferFrom submits transferFrom and waits for it to be mined.
// Submission is never retried.
func (l *Ledger) TransferFrom(ctx context.Context, asset, spender, from, to common.Address, amount *big.Int) error {
	if spender != l.Address() {
		return fmt.Errorf("%w: %s", ErrWrongSpender, spender.Hex())
	}

	l.txMu.Lock()
	opts := *l.signer
	opts.Context = ctx
	tx, err := l.contract(asset).Transact(&opts, "transferFrom", from, to, amount)
	l.txMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to submit transferFrom: %w", err)
	}

	l.logger.Info().
		Str("asset", asset.Hex()).
		Str("from", from.Hex()).
		Str("to", to.Hex()).
		Str("amount", amount.String()).
		Str("txHash", tx.Hash().Hex()).
		Str("explorer", l.ExplorerURL(tx.Hash())).
		Msg("Submitted transferFrom")

	waitCtx, cancel := context.WithTimeout(ctx, l.opts.ReceiptTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, l.backend, tx)
	if err != nil {
		return fmt.Errorf("failed to wait for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())
	}

	return nil
}

func (l *Ledger) ExplorerURL(txHash common.Hash) string {
	return fmt.Sprintf("%s%s", l.opts.ExplorerURL, txHash.Hex())
}
