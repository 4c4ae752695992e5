package strategy

import (
	"hars/internal/models"
	"hars/pkg/utils"
)

// TrendContinuation торгует продолжение тренда: вход по направлению
// режима, когда цена подтверждает положение относительно SMA и
// дельта объёмов согласована с направлением.
type TrendContinuation struct {
	baseSize  float64
	smaWindow int
}

// NewTrendContinuation создаёт стратегию с базовым размером в монетах актива
func NewTrendContinuation(baseSize float64) *TrendContinuation {
	return &TrendContinuation{
		baseSize:  baseSize,
		smaWindow: 20,
	}
}

func (s *TrendContinuation) Name() models.StrategyModule { return models.ModuleTrendContinuation }
func (s *TrendContinuation) Basket() models.Basket       { return models.Basket2 }

// Propose возвращает предложение по тренду или nil
func (s *TrendContinuation) Propose(view *MarketView) *models.ExecutionProposal {
	if view.Price <= 0 || view.Auction.NoTradeZoneActive {
		return nil
	}
	// Работает только в трендовых режимах
	if view.Regime != models.RegimeTrendUp && view.Regime != models.RegimeTrendDown {
		return nil
	}
	if !view.Auction.DeltaAligned || !view.Auction.HTFFilterPassed {
		return nil
	}
	if len(view.Prices) < s.smaWindow {
		return nil
	}

	sma := utils.Mean(view.Prices[len(view.Prices)-s.smaWindow:])
	if sma <= 0 {
		return nil
	}

	var direction string
	switch {
	case view.Regime == models.RegimeTrendUp && view.Price > sma:
		direction = models.DirectionLong
	case view.Regime == models.RegimeTrendDown && view.Price < sma:
		direction = models.DirectionShort
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
