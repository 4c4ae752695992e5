package strategy

import (
	"hars/internal/models"
	"hars/pkg/utils"
)

// MeanReversion торгует возврат к среднему: вход против отклонения
// от SMA либо от границ value area (VAL/VAH).
//
// Логика входа намеренно простая - конвейеру ниже важны только
// корректно заполненные замороженные теги.
type MeanReversion struct {
	baseSize float64
	// Минимальное относительное отклонение от SMA для сигнала
	deviation float64
	smaWindow int
}

// NewMeanReversion создаёт стратегию с базовым размером в монетах актива
func NewMeanReversion(baseSize float64) *MeanReversion {
	return &MeanReversion{
		baseSize:  baseSize,
		deviation: 0.006,
		smaWindow: 20,
	}
}

func (s *MeanReversion) Name() models.StrategyModule { return models.ModuleMeanReversion }
func (s *MeanReversion) Basket() models.Basket       { return models.Basket1 }

// Propose возвращает предложение на вход против отклонения или nil
func (s *MeanReversion) Propose(view *MarketView) *models.ExecutionProposal {
	if view.Price <= 0 || view.Auction.NoTradeZoneActive {
		return nil
	}

	direction := ""

	// Приоритет у микроструктуры: вход от границ value area
	switch {
	case view.Auction.EntryAtVAL:
		direction = models.DirectionLong
	case view.Auction.EntryAtVAH:
		direction = models.DirectionShort
	default:
		// Fallback: отклонение от SMA
		if len(view.Prices) < s.smaWindow {
			return nil
		}
		sma := utils.Mean(view.Prices[len(view.Prices)-s.smaWindow:])
		if sma <= 0 {
			return nil
		}
		switch {
		case view.Price < sma*(1-s.deviation):
			direction = models.DirectionLong
		case view.Price > sma*(1+s.deviation):
			direction = models.DirectionShort
		default:
			return nil
		}
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
