package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"cajero/backend/internal/domain"
	"cajero/backend/internal/pricing"
	"cajero/backend/internal/store"
	"cajero/backend/internal/xid"
)

// CloseShift records a closeout for the register. Sales are summed over
// [previous closing time, this closing time), so each sale lands in exactly
// one closeout.
func (s *Service) CloseShift(ctx context.Context, tenantID string, userID string, req domain.CloseShiftRequest) (domain.CloseoutSummary, error) {
	req.CashRegisterID = strings.TrimSpace(req.CashRegisterID)
	if req.CashRegisterID == "" {
		return domain.CloseoutSummary{}, fmt.Errorf("%w: cashRegisterId is required", store.ErrInvalidInput)
	}
	if req.FinalBalance == nil {
		return domain.CloseoutSummary{}, fmt.Errorf("%w: finalBalance is required", store.ErrInvalidInput)
	}
	if req.FinalBalance.IsNegative() {
		return domain.CloseoutSummary{}, fmt.Errorf("%w: finalBalance must not be negative", store.ErrInvalidInput)
	}
	if req.StartingBalance != nil && req.StartingBalance.IsNegative() {
		return domain.CloseoutSummary{}, fmt.Errorf("%w: startingBalance must not be negative", store.ErrInvalidInput)
	}

	var closeout domain.ShiftCloseout
	err := s.repo.RunInTx(ctx, func(tx store.Tx) error {
		// The register lock serializes closeouts of one register; the clock
		// is read once it is held.
		register, err := tx.GetCashRegister(ctx, tenantID, req.CashRegisterID)
		closingTime := s.now()
		switch {
		case errors.Is(err, store.ErrNotFound):
			register = &domain.CashRegister{
				ID:             req.CashRegisterID,
				TenantID:       tenantID,
				Name:           "Caja " + req.CashRegisterID,
				CurrentBalance: decimal.Zero,
				IsActive:       true,
				CreatedAt:      closingTime,
				UpdatedAt:      closingTime,
			}
			if err := tx.SaveCashRegister(ctx, *register); err != nil {
				return err
			}
		case err != nil:
			return err
		case !register.IsActive:
			register.IsActive = true
			register.UpdatedAt = closingTime
			if err := tx.SaveCashRegister(ctx, *register); err != nil {
				return err
			}
		}

		prior, err := tx.LatestCloseout(ctx, tenantID, register.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}

		starting := register.CurrentBalance
		window := domain.SalesWindow{Until: &closingTime}
		if prior != nil {
			if closingTime.Before(prior.ClosingTime) {
				closingTime = prior.ClosingTime
			}
			starting = prior.FinalBalance
			priorClosing := prior.ClosingTime
			window.From = &priorClosing
		}
		if req.StartingBalance != nil {
			starting = *req.StartingBalance
		}

		sales, err := tx.SumSales(ctx, tenantID, window)
		if err != nil {
			return err
		}

		closeout = domain.ShiftCloseout{
			ID:              xid.New(),
			TenantID:        tenantID,
			CashRegisterID:  register.ID,
			ClosingTime:     closingTime,
			StartingBalance: pricing.Round(starting),
			FinalBalance:    pricing.Round(*req.FinalBalance),
			SalesTotal:      pricing.Round(sales.Total),
			ClosedByUserID:  userID,
			CreatedAt:       closingTime,
			UpdatedAt:       closingTime,
		}
		if err := tx.InsertCloseout(ctx, closeout); err != nil {
			return err
		}

		register.CurrentBalance = decimal.Zero
		register.UpdatedAt = closingTime
		return tx.SaveCashRegister(ctx, *register)
	})
	if err != nil {
		return domain.CloseoutSummary{}, err
	}

	s.reports.InvalidateTenant(ctx, tenantID)
	log.Info().
		Str("tenant", tenantID).
		Str("register", closeout.CashRegisterID).
		Str("sales_total", closeout.SalesTotal.StringFixed(2)).
		Msg("shift closed")
	return closeout.Summary(), nil
}
