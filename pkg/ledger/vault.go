package ledger

import (
	"context"
	"errors"

	"github.com/holiman/uint256"

	"github.com/relves/vulnlog/internal/storage"
	"github.com/relves/vulnlog/pkg/address"
	"github.com/relves/vulnlog/pkg/types"
)

func amountOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

// authorizeVault loads a vault and checks that caller is the authority of
// its protocol.
func authorizeVault(ctx context.Context, tx storage.Tx, vaultAddr string, caller types.Identity) (*types.BountyVault, error) {
	v, err := loadVault(ctx, tx, vaultAddr)
	if err != nil {
		return nil, err
	}
	p, err := loadProtocol(ctx, tx, v.Protocol)
	if err != nil {
		return nil, err
	}
	if p.Authority != caller {
		return nil, ErrUnauthorizedVaultAction
	}
	return v, nil
}

// CreateVault opens the bounty vault of a protocol with per-severity rates
// and an initial deposit. Each protocol has at most one vault.
func (s *Service) CreateVault(ctx context.Context, caller types.Identity, protocolAddr string, rates types.Rates, initialDeposit *uint256.Int) (*types.BountyVault, error) {
	now := s.now()
	v := &types.BountyVault{
		Address:  address.Vault(protocolAddr),
		Protocol: protocolAddr,
		Rates: types.Rates{
			Low:      amountOrZero(rates.Low),
			Medium:   amountOrZero(rates.Medium),
			High:     amountOrZero(rates.High),
			Critical: amountOrZero(rates.Critical),
		},
		TotalDeposited: amountOrZero(initialDeposit),
		TotalPaid:      new(uint256.Int),
		Active:         true,
		CreatedAt:      now,
	}

	err := s.update(ctx, func(tx storage.Tx) error {
		p, err := loadProtocol(ctx, tx, protocolAddr)
		if err != nil {
			return err
		}
		if p.Authority != caller {
			return ErrUnauthorizedVaultAction
		}
		if err := tx.InsertVault(ctx, v); err != nil {
			return exists(err, "vault", v.Address)
		}
		return s.record(ctx, tx, "vault/create", v.Address, caller, now, v)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("vault created", "vault", v.Address, "protocol", protocolAddr, "deposit", v.TotalDeposited.Dec())
	return v, nil
}

// Fund adds amount to an active vault. Anyone may fund a vault.
func (s *Service) Fund(ctx context.Context, caller types.Identity, vaultAddr string, amount *uint256.Int) (*types.BountyVault, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}

	var v *types.BountyVault
	err := s.update(ctx, func(tx storage.Tx) error {
		var err error
		v, err = loadVault(ctx, tx, vaultAddr)
		if err != nil {
			return err
		}
		if !v.Active {
			return ErrVaultNotActive
		}
		if _, overflow := v.TotalDeposited.AddOverflow(v.TotalDeposited, amount); overflow {
			return ErrBountyOverflow
		}
		if err := tx.UpdateVault(ctx, v); err != nil {
			return err
		}
		return s.record(ctx, tx, "vault/fund", vaultAddr, caller, s.now(),
			map[string]string{"amount": amount.Dec()})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("vault funded", "vault", vaultAddr, "funder", caller, "amount", amount.Dec())
	return v, nil
}

// Deactivate stops payouts from a vault and makes its balance withdrawable.
func (s *Service) Deactivate(ctx context.Context, caller types.Identity, vaultAddr string) (*types.BountyVault, error) {
	var v *types.BountyVault
	err := s.update(ctx, func(tx storage.Tx) error {
		var err error
		v, err = authorizeVault(ctx, tx, vaultAddr, caller)
		if err != nil {
			return err
		}
		if !v.Active {
			return ErrVaultAlreadyInactive
		}
		v.Active = false
		if err := tx.UpdateVault(ctx, v); err != nil {
			return err
		}
		return s.record(ctx, tx, "vault/deactivate", vaultAddr, caller, s.now(), nil)
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Withdraw moves unpaid funds of an inactive vault to its authority.
func (s *Service) Withdraw(ctx context.Context, caller types.Identity, vaultAddr string, amount *uint256.Int) (*types.BountyVault, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}

	now := s.now()
	var v *types.BountyVault
	err := s.update(ctx, func(tx storage.Tx) error {
		var err error
		v, err = authorizeVault(ctx, tx, vaultAddr, caller)
		if err != nil {
			return err
		}
		if v.Active {
			return ErrVaultStillActive
		}
		if amount.Gt(v.Available()) {
			return ErrInsufficientVaultFunds
		}
		v.TotalDeposited.Sub(v.TotalDeposited, amount)
		if err := tx.UpdateVault(ctx, v); err != nil {
			return err
		}
		if err := tx.Transfer(ctx, types.Transfer{
			From:   vaultAddr,
			To:     caller.String(),
			Amount: amount,
			Reason: "vault/withdraw",
			At:     now,
		}); err != nil {
			return err
		}
		return s.record(ctx, tx, "vault/withdraw", vaultAddr, caller, now,
			map[string]string{"amount": amount.Dec()})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("vault withdrawn", "vault", vaultAddr, "amount", amount.Dec())
	return v, nil
}

// ClaimBounty pays the hacker of a resolved disclosure the vault's rate for
// its severity. A disclosure is paid at most once per vault: the receipt
// check, the payout and the receipt itself share one transaction.
func (s *Service) ClaimBounty(ctx context.Context, caller types.Identity, disclosureAddr, vaultAddr string) (*types.ClaimReceipt, error) {
	now := s.now()
	var receipt *types.ClaimReceipt
	err := s.update(ctx, func(tx storage.Tx) error {
		d, err := loadDisclosure(ctx, tx, disclosureAddr)
		if err != nil {
			return err
		}
		if d.Hacker != caller {
			return ErrUnauthorizedHackerAction
		}
		if d.Status != types.StatusResolved {
			return ErrDisclosureNotResolved
		}
		v, err := loadVault(ctx, tx, vaultAddr)
		if err != nil {
			return err
		}
		if !v.Active {
			return ErrVaultNotActive
		}
		if v.Protocol != d.Protocol {
			return ErrProtocolMismatch
		}

		receiptAddr := address.Receipt(disclosureAddr, vaultAddr)
		if _, err := tx.GetReceipt(ctx, receiptAddr); err == nil {
			return ErrBountyAlreadyClaimed
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		rate := amountOrZero(v.Rates.For(d.Severity))
		if rate.Gt(v.Available()) {
			return ErrInsufficientVaultFunds
		}
		if _, overflow := v.TotalPaid.AddOverflow(v.TotalPaid, rate); overflow {
			return ErrBountyOverflow
		}
		if err := tx.UpdateVault(ctx, v); err != nil {
			return err
		}
		if err := tx.Transfer(ctx, types.Transfer{
			From:   vaultAddr,
			To:     caller.String(),
			Amount: rate,
			Reason: "vault/claim",
			At:     now,
		}); err != nil {
			return err
		}

		receipt = &types.ClaimReceipt{
			Address:    receiptAddr,
			Disclosure: disclosureAddr,
			Vault:      vaultAddr,
			Amount:     rate,
			ClaimedAt:  now,
		}
		if err := tx.InsertReceipt(ctx, receipt); err != nil {
			if errors.Is(err, storage.ErrExists) {
				return ErrBountyAlreadyClaimed
			}
			return err
		}
		return s.record(ctx, tx, "vault/claim", receiptAddr, caller, now, receipt)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("bounty claimed",
		"disclosure", disclosureAddr,
		"vault", vaultAddr,
		"amount", receipt.Amount.Dec())
	return receipt, nil
}

// GetVault returns the vault at addr.
func (s *Service) GetVault(ctx context.Context, addr string) (*types.BountyVault, error) {
	var v *types.BountyVault
	err := s.view(ctx, func(tx storage.Tx) error {
		var err error
		v, err = loadVault(ctx, tx, addr)
		return err
	})
	return v, err
}

// GetReceipt returns the claim receipt for a disclosure and vault.
func (s *Service) GetReceipt(ctx context.Context, disclosureAddr, vaultAddr string) (*types.ClaimReceipt, error) {
	addr := address.Receipt(disclosureAddr, vaultAddr)
	var r *types.ClaimReceipt
	err := s.view(ctx, func(tx storage.Tx) error {
		var err error
		r, err = tx.GetReceipt(ctx, addr)
		if err != nil {
			return notFound(err, ErrReceiptNotFound, addr)
		}
		return nil
	})
	return r, err
}

// Balance returns the total paid out to identity.
func (s *Service) Balance(ctx context.Context, identity types.Identity) (*uint256.Int, error) {
	var b *uint256.Int
	err := s.view(ctx, func(tx storage.Tx) error {
		var err error
		b, err = tx.Balance(ctx, identity.String())
		return err
	})
	return b, err
}
