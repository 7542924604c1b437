// Package chainclient implements the facade.BalanceReader collaborator
// against a live RPC node: a native balance for the configured native-token
// sentinel address,
// an ERC-20 balanceOf call otherwise. Grounded on the
// ethclient.CallContract + accounts/abi.Pack pattern used for ERC-20
// allowance/nonce reads elsewhere in the pack.
package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

var erc20BalanceABI abi.ABI

func init() {
	var err error
	erc20BalanceABI, err = abi.JSON(strings.NewReader(`[{"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`))
	if err != nil {
		panic(fmt.Sprintf("chainclient: parse erc20 abi: %v", err))
	}
}

// BalanceClient reads wallet balances directly from an EVM node.
type BalanceClient struct {
	rpc         *ethclient.Client
	nativeToken common.Address
}

// Dial connects to an EVM JSON-RPC endpoint. nativeToken is the sentinel
// address the rest of the planner uses to mean "the chain's native
// asset" (spec.md's buy-in currency selection treats it specially).
func Dial(ctx context.Context, rpcURL string, nativeToken common.Address) (*BalanceClient, error) {
	rpc, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chainclient: dial %s: %w", rpcURL, err)
	}
	return &BalanceClient{rpc: rpc, nativeToken: nativeToken}, nil
}

func (c *BalanceClient) Close() { c.rpc.Close() }

// WalletBalance satisfies facade.BalanceReader.
func (c *BalanceClient) WalletBalance(ctx context.Context, wallet, currency common.Address) (*big.Int, error) {
	if currency == c.nativeToken {
		bal, err := c.rpc.BalanceAt(ctx, wallet, nil)
		if err != nil {
			return nil, fmt.Errorf("chainclient: native balance: %w", err)
		}
		return bal, nil
	}

	data, err := erc20BalanceABI.Pack("balanceOf", wallet)
	if err != nil {
		return nil, fmt.Errorf("chainclient: pack balanceOf: %w", err)
	}
	out, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &currency, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chainclient: call balanceOf(%s): %w", currency, err)
	}
	if len(out) < 32 {
		return big.NewInt(0), nil
	}
	return new(big.Int).SetBytes(out), nil
}
