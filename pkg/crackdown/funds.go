package crackdown

import (
	"context"

	"github.com/fabrknt/fabcash/pkg/ledger"
	"github.com/fabrknt/fabcash/pkg/models"
)

// LedgerFunds reads public balances from the ledger network for one
// wallet address.
type LedgerFunds struct {
	Ledger  ledger.Client
	Address string
}

var _ Funds = LedgerFunds{}

// Balance returns the public balance for token. Stable-asset balances
// require a token-account lookup the RPC surface does not expose yet,
// so USDC reports zero for now.
// TODO: wire getTokenAccountsByOwner for the USDC balance.
func (f LedgerFunds) Balance(ctx context.Context, token models.TokenType) (uint64, error) {
	if token == models.TokenUSDC {
		return 0, nil
	}
	return f.Ledger.GetBalance(ctx, f.Address)
}
