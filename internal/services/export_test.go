package services

import (
	"context"

	"lotbuy/internal/domain"
	"lotbuy/internal/repos"
)

// SetBeforeLotSwap installs a hook that runs inside AcceptOffer's transaction
// between reading the lot and swapping it.
func (e *Engine) SetBeforeLotSwap(fn func(ctx context.Context, tx *repos.Tx, lot domain.Lot) error) {
	e.beforeLotSwap = fn
}
