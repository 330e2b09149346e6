// Package token provides the value-transfer collaborator consumed by the
// stream engine: per-asset account balances, owner-to-spender allowances and
// a derived custody account per asset.
package token

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"paystream/native/stream"
)

var (
	ErrInsufficientFunds     = errors.New("token: insufficient funds")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrInvalidAmount         = errors.New("token: amount must be positive")

	errNilState = errors.New("token vault: state not configured")
)

// vaultState is the slice of ledger state the vault operates on. Writes made
// while a stream operation's transaction is open land in the same overlay
// and roll back with it.
type vaultState interface {
	TokenBalance(asset string, addr [20]byte) (*big.Int, error)
	TokenSetBalance(asset string, addr [20]byte, amount *big.Int) error
	TokenAllowance(asset string, owner, spender [20]byte) (*big.Int, error)
	TokenSetAllowance(asset string, owner, spender [20]byte, amount *big.Int) error
}

// Vault moves fungible token value between accounts and the per-asset
// custody address. It implements the stream engine's TransferGateway.
type Vault struct {
	state vaultState
}

// NewVault constructs a vault bound to the provided state backend.
func NewVault(state vaultState) *Vault {
	return &Vault{state: state}
}

// CustodyAddress derives the deterministic custody account for an asset.
// The asset name is normalised first so every spelling of a symbol maps to
// the same account as the balance and allowance paths.
func (v *Vault) CustodyAddress(asset string) [20]byte {
	if normalized, err := stream.NormalizeAsset(asset); err == nil {
		asset = normalized
	}
	digest := ethcrypto.Keccak256([]byte("paystream/vault/" + asset))
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

// BalanceOf returns the balance held by an account for an asset.
func (v *Vault) BalanceOf(asset string, addr [20]byte) (*big.Int, error) {
	if v == nil || v.state == nil {
		return nil, errNilState
	}
	normalized, err := stream.NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	return v.state.TokenBalance(normalized, addr)
}

// Allowance returns what spender may still pull from owner.
func (v *Vault) Allowance(asset string, owner, spender [20]byte) (*big.Int, error) {
	if v == nil || v.state == nil {
		return nil, errNilState
	}
	normalized, err := stream.NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	return v.state.TokenAllowance(normalized, owner, spender)
}

// Approve sets the allowance owner grants to spender. A zero amount revokes
// the grant.
func (v *Vault) Approve(asset string, owner, spender [20]byte, amount *big.Int) error {
	if v == nil || v.state == nil {
		return errNilState
	}
	normalized, err := stream.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return v.state.TokenSetAllowance(normalized, owner, spender, amount)
}

// Mint credits an account out of thin air. Reserved for genesis allocations
// and tests; nothing on the operation path mints.
func (v *Vault) Mint(asset string, addr [20]byte, amount *big.Int) error {
	if v == nil || v.state == nil {
		return errNilState
	}
	normalized, err := stream.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := v.state.TokenBalance(normalized, addr)
	if err != nil {
		return err
	}
	return v.state.TokenSetBalance(normalized, addr, new(big.Int).Add(balance, amount))
}

// TransferIn pulls amount of asset from the payer into custody, consuming an
// equal slice of the allowance the payer granted the custody account.
func (v *Vault) TransferIn(asset string, from [20]byte, amount *big.Int) error {
	if v == nil || v.state == nil {
		return errNilState
	}
	normalized, err := stream.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	custody := v.CustodyAddress(normalized)
	allowance, err := v.state.TokenAllowance(normalized, from, custody)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: allowance %s, requested %s", ErrInsufficientAllowance, allowance, amount)
	}
	if err := v.move(normalized, from, custody, amount); err != nil {
		return err
	}
	return v.state.TokenSetAllowance(normalized, from, custody, new(big.Int).Sub(allowance, amount))
}

// TransferOut pays amount of asset out of custody.
func (v *Vault) TransferOut(asset string, to [20]byte, amount *big.Int) error {
	if v == nil || v.state == nil {
		return errNilState
	}
	normalized, err := stream.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return v.move(normalized, v.CustodyAddress(normalized), to, amount)
}

func (v *Vault) move(asset string, from, to [20]byte, amount *big.Int) error {
	fromBalance, err := v.state.TokenBalance(asset, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientFunds, fromBalance, amount)
	}
	// A self-transfer is a funded no-op. Writing both legs would let the
	// credit overwrite the debit and mint amount out of nothing.
	if from == to {
		return nil
	}
	toBalance, err := v.state.TokenBalance(asset, to)
	if err != nil {
		return err
	}
	if err := v.state.TokenSetBalance(asset, from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return v.state.TokenSetBalance(asset, to, new(big.Int).Add(toBalance, amount))
}
