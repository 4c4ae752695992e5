package models

import "fmt"

// ============================================================
// Замороженный контракт предложения сделки (frozen contract)
// ============================================================
//
// ExecutionProposal - единственный формат, в котором стратегия
// передаёт кандидата на сделку вниз по конвейеру. Все слои ниже
// (router, risk, execution) ТОЛЬКО валидируют и читают поля,
// никто не имеет права их менять. Теги basket/module/regime/auction
// фиксируются в момент генерации и идут в audit-лог как есть.

// Направление сделки
const (
	DirectionLong  = "LONG"
	DirectionShort = "SHORT"
)

// Basket - группа коррелированных активов
type Basket string

const (
	Basket1 Basket = "BASKET_1" // BTC, ETH
	Basket2 Basket = "BASKET_2" // SOL, MATIC, ADA
	Basket3 Basket = "BASKET_3" // AVAX, DOT, LUNA
)

// ValidBaskets - множество допустимых значений Basket
var ValidBaskets = map[Basket]bool{
	Basket1: true,
	Basket2: true,
	Basket3: true,
}

// StrategyModule - семейство стратегий, породившее предложение
type StrategyModule string

const (
	ModuleMeanReversion     StrategyModule = "MEAN_REVERSION"
	ModuleTrendContinuation StrategyModule = "TREND_CONTINUATION"
	ModuleLiquidityRaid     StrategyModule = "LIQUIDITY_RAID"
)

// ValidModules - множество допустимых значений StrategyModule
var ValidModules = map[StrategyModule]bool{
	ModuleMeanReversion:     true,
	ModuleTrendContinuation: true,
	ModuleLiquidityRaid:     true,
}

// HTFRegime - режим рынка на старшем таймфрейме
type HTFRegime string

const (
	RegimeTrendUp        HTFRegime = "TREND_UP"
	RegimeTrendDown      HTFRegime = "TREND_DOWN"
	RegimeBalanced       HTFRegime = "BALANCED"
	RegimeHighVolatility HTFRegime = "HIGH_VOLATILITY"
	RegimeTransition     HTFRegime = "TRANSITION"
)

// ValidRegimes - множество допустимых значений HTFRegime
var ValidRegimes = map[HTFRegime]bool{
	RegimeTrendUp:        true,
	RegimeTrendDown:      true,
	RegimeBalanced:       true,
	RegimeHighVolatility: true,
	RegimeTransition:     true,
}

// AuctionContext - микроструктурные флаги в момент входа.
// Фиксированный набор boolean-полей, часть замороженного контракта.
type AuctionContext struct {
	EntryAtVAL         bool `json:"entry_at_val"`
	EntryAtVAH         bool `json:"entry_at_vah"`
	EntryAtValueMid    bool `json:"entry_at_value_mid"`
	OutsideValueArea   bool `json:"outside_value_area"`
	SFPPresent         bool `json:"sfp_present"`
	DeltaAligned       bool `json:"delta_aligned"`
	AbsorptionDetected bool `json:"absorption_detected"`
	HTFFilterPassed    bool `json:"htf_filter_passed"`
	NoTradeZoneActive  bool `json:"no_trade_zone_active"`
}

// ExecutionProposal - кандидат на сделку (immutable value object).
//
// ProposalID назначается стратегией, уникален и одновременно служит
// idempotency key на бирже (client order id): повторная отправка с тем
// же ID не может породить второй живой ордер.
type ExecutionProposal struct {
	ProposalID string  `json:"proposal_id"`
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"` // LONG | SHORT
	Size       float64 `json:"size"`
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`

	// Замороженные compliance-теги
	Basket         Basket         `json:"basket"`
	Module         StrategyModule `json:"module"`
	HTFRegime      HTFRegime      `json:"htf_regime"`
	AuctionContext AuctionContext `json:"auction_context"`
}

// Validate проверяет предложение против замороженного контракта.
//
// Возвращает nil если предложение валидно. Невалидное предложение
// считается багом стратегии: оно логируется и отбрасывается, но никогда
// не исполняется и не маршрутизируется.
func (p *ExecutionProposal) Validate() error {
	if p.ProposalID == "" {
		return fmt.Errorf("empty proposal_id")
	}
	if p.Symbol == "" {
		return fmt.Errorf("empty symbol")
	}
	if p.Direction != DirectionLong && p.Direction != DirectionShort {
		return fmt.Errorf("invalid direction=%s (must be LONG/SHORT)", p.Direction)
	}
	if p.Size <= 0 {
		return fmt.Errorf("invalid size=%v (must be > 0)", p.Size)
	}
	if p.EntryPrice <= 0 {
		return fmt.Errorf("invalid entry_price=%v (must be > 0)", p.EntryPrice)
	}
	if p.StopLoss <= 0 {
		return fmt.Errorf("invalid stop_loss=%v (must be > 0)", p.StopLoss)
	}
	if p.TakeProfit <= 0 {
		return fmt.Errorf("invalid take_profit=%v (must be > 0)", p.TakeProfit)
	}
	if !ValidBaskets[p.Basket] {
		return fmt.Errorf("FROZEN_CONTRACT_VIOLATION: unknown basket=%q", p.Basket)
	}
	if !ValidModules[p.Module] {
		return fmt.Errorf("FROZEN_CONTRACT_VIOLATION: unknown module=%q", p.Module)
	}
	if !ValidRegimes[p.HTFRegime] {
		return fmt.Errorf("FROZEN_CONTRACT_VIOLATION: unknown htf_regime=%q", p.HTFRegime)
	}
	return nil
}

// SignedSize возвращает размер со знаком: положительный для LONG,
// отрицательный для SHORT (формат, который ожидает биржевой адаптер).
func (p *ExecutionProposal) SignedSize(size float64) float64 {
	if p.Direction == DirectionShort {
		return -size
	}
	return size
}
