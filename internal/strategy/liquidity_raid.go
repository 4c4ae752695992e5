package strategy

import (
	"hars/internal/models"
)

// LiquidityRaid - агрессивная стратегия: вход против выноса ликвидности
// (swing failure pattern с абсорбцией за границей value area).
//
// Роутер дополнительно гейтит её по режиму, волатильности и здоровью
// API: стратегия сама проверяет только микроструктурный сетап.
type LiquidityRaid struct {
	baseSize float64
}

// NewLiquidityRaid создаёт стратегию с базовым размером в монетах актива
func NewLiquidityRaid(baseSize float64) *LiquidityRaid {
	return &LiquidityRaid{baseSize: baseSize}
}

func (s *LiquidityRaid) Name() models.StrategyModule { return models.ModuleLiquidityRaid }
func (s *LiquidityRaid) Basket() models.Basket       { return models.Basket3 }

// Propose возвращает предложение на fade выноса или nil
func (s *LiquidityRaid) Propose(view *MarketView) *models.ExecutionProposal {
	if view.Price <= 0 || view.Auction.NoTradeZoneActive {
		return nil
	}
	// Сетап: SFP + абсорбция за пределами value area
	if !view.Auction.SFPPresent || !view.Auction.AbsorptionDetected || !view.Auction.OutsideValueArea {
		return nil
	}

	// Fade обратно внутрь value area: вынос над VAH шортим, под VAL лонгуем
	var direction string
	switch {
	case view.Auction.EntryAtVAH:
		direction = models.DirectionShort
	case view.Auction.EntryAtVAL:
		direction = models.DirectionLong
	default:
		return nil
	}

	stop, take := ComputeStops(view.Price, direction, view.Regime, view.VolMultiplier)

	return &models.ExecutionProposal{
		ProposalID:     newProposalID(s.Name(), view.Symbol),
		Symbol:         view.Symbol,
		Direction:      direction,
		Size:           s.baseSize,
		EntryPrice:     view.Price,
		StopLoss:       stop,
		TakeProfit:     take,
		Basket:         s.Basket(),
		Module:         s.Name(),
		HTFRegime:      view.Regime,
		AuctionContext: view.Auction,
	}
}
