package rpc

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABIJSON = `[
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}

// ERC20Reader reads token metadata through eth_call. Every call is independent
// so one reverting getter does not hide the others.
type ERC20Reader struct {
	caller bind.ContractCaller
}

func NewERC20Reader(caller bind.ContractCaller) *ERC20Reader {
	return &ERC20Reader{caller: caller}
}

func (r *ERC20Reader) call(ctx context.Context, token common.Address, method string) (interface{}, error) {
	contract := bind.NewBoundContract(token, erc20ABI, r.caller, nil, nil)

	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method); err != nil {
		return nil, fmt.Errorf("%s() on %s: %w", method, token.Hex(), err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s() on %s: expected 1 output, got %d", method, token.Hex(), len(out))
	}
	return out[0], nil
}

func (r *ERC20Reader) Name(ctx context.Context, token common.Address) (string, error) {
	return callAs[string](ctx, r, token, "name")
}

func (r *ERC20Reader) Symbol(ctx context.Context, token common.Address) (string, error) {
	return callAs[string](ctx, r, token, "symbol")
}

func (r *ERC20Reader) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	return callAs[uint8](ctx, r, token, "decimals")
}

func (r *ERC20Reader) TotalSupply(ctx context.Context, token common.Address) (*big.Int, error) {
	return callAs[*big.Int](ctx, r, token, "totalSupply")
}

func callAs[T any](ctx context.Context, r *ERC20Reader, token common.Address, method string) (T, error) {
	var zero T
	v, err := r.call(ctx, token, method)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s() on %s: unexpected output type %T", method, token.Hex(), v)
	}
	return typed, nil
}
