package bot

import (
	"go.uber.org/zap"

	"hars/internal/models"
	"hars/internal/strategy"
)

// ============================================================
// Strategy router: выбор стратегии по режиму и состоянию риска
// ============================================================
//
// Роутер stateless: вся политика в конфиге, всё состояние приходит
// аргументами. Ранжирования между стратегиями нет - побеждает первая
// подходящая по приоритетному списку режима.

// regimeTransition - пара (предыдущий режим, текущий режим)
type regimeTransition struct {
	From models.HTFRegime
	To   models.HTFRegime
}

// RouterConfig - политика выбора стратегий
type RouterConfig struct {
	// Режимы, в которых торговля полностью запрещена
	NoTradeRegimes map[models.HTFRegime]bool

	// Приоритетные списки модулей по режимам (порядок важен)
	Priorities map[models.HTFRegime][]models.StrategyModule

	// Опасные переходы режимов: список приоритетов заменяется
	// консервативным
	DangerousTransitions map[regimeTransition][]models.StrategyModule

	// Basket, предложения которой откладываются в fallback
	DeprioritizedBasket models.Basket

	// Режимы, в которых агрессивный модуль (liquidity raid) выключен
	RaidDisabledRegimes map[models.HTFRegime]bool

	// Серия отказов API, с которой агрессивный модуль выключается
	APIStreakSoftLimit int
}

// DefaultRouterConfig - политика по умолчанию
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		NoTradeRegimes: map[models.HTFRegime]bool{},
		Priorities: map[models.HTFRegime][]models.StrategyModule{
			models.RegimeTrendUp: {
				models.ModuleTrendContinuation,
				models.ModuleLiquidityRaid,
				models.ModuleMeanReversion,
			},
			models.RegimeTrendDown: {
				models.ModuleTrendContinuation,
				models.ModuleLiquidityRaid,
				models.ModuleMeanReversion,
			},
			models.RegimeBalanced: {
				models.ModuleMeanReversion,
				models.ModuleLiquidityRaid,
			},
			models.RegimeHighVolatility: {
				models.ModuleMeanReversion,
			},
			models.RegimeTransition: {
				models.ModuleMeanReversion,
			},
		},
		DangerousTransitions: map[regimeTransition][]models.StrategyModule{
			{From: models.RegimeTrendUp, To: models.RegimeHighVolatility}: {models.ModuleMeanReversion},
			{From: models.RegimeBalanced, To: models.RegimeTransition}:    {models.ModuleMeanReversion},
		},
		DeprioritizedBasket: models.Basket3,
		RaidDisabledRegimes: map[models.HTFRegime]bool{
			models.RegimeHighVolatility: true,
			models.RegimeTransition:     true,
		},
		APIStreakSoftLimit: 3,
	}
}

// Router выбирает стратегию для тика
type Router struct {
	cfg      RouterConfig
	registry *strategy.Registry
	log      *zap.Logger
}

// NewRouter создаёт роутер над реестром стратегий
func NewRouter(cfg RouterConfig, registry *strategy.Registry, log *zap.Logger) *Router {
	return &Router{cfg: cfg, registry: registry, log: log}
}

// Route возвращает предложение первой подходящей стратегии или nil.
//
// Порядок: жёсткий блок по kill switch / CIRCUIT -> no-trade режимы ->
// подмена списка на опасном переходе -> гейтинг агрессивного модуля ->
// скан по приоритету с валидацией контракта -> soft block
// депириоритизированной basket с held fallback.
func (r *Router) Route(view *strategy.MarketView, risk RiskSnapshot) *models.ExecutionProposal {
	if risk.KillSwitch || risk.Level == RiskLevelCircuit {
		return nil
	}

	if r.cfg.NoTradeRegimes[view.Regime] {
		return nil
	}

	modules := r.cfg.Priorities[view.Regime]
	if override, ok := r.cfg.DangerousTransitions[regimeTransition{From: view.PrevRegime, To: view.Regime}]; ok {
		r.log.Debug("dangerous regime transition, conservative strategy list",
			zap.String("symbol", view.Symbol),
			zap.String("prev_regime", string(view.PrevRegime)),
			zap.String("regime", string(view.Regime)))
		modules = override
	}

	if r.raidBlocked(view.Regime, risk) {
		modules = withoutModule(modules, models.ModuleLiquidityRaid)
	}

	var fallback *models.ExecutionProposal
	for _, name := range modules {
		strat, ok := r.registry.Get(name)
		if !ok {
			continue
		}
		proposal := strat.Propose(view)
		if proposal == nil {
			continue
		}
		if err := proposal.Validate(); err != nil {
			// невалидное предложение - баг стратегии, не control flow
			r.log.Error("strategy produced invalid proposal",
				zap.String("module", string(name)),
				zap.String("proposal_id", proposal.ProposalID),
				zap.Error(err))
			continue
		}
		if proposal.Basket == r.cfg.DeprioritizedBasket {
			if fallback == nil {
				fallback = proposal
			}
			continue
		}
		ProposalsGenerated.WithLabelValues(string(name), view.Symbol).Inc()
		return proposal
	}

	if fallback != nil {
		ProposalsGenerated.WithLabelValues(string(fallback.Module), view.Symbol).Inc()
		r.log.Debug("routing held deprioritized fallback",
			zap.String("symbol", view.Symbol),
			zap.String("module", string(fallback.Module)))
	}
	return fallback
}

// raidBlocked - условия выключения агрессивного модуля
func (r *Router) raidBlocked(regime models.HTFRegime, risk RiskSnapshot) bool {
	return r.cfg.RaidDisabledRegimes[regime] ||
		risk.VolSpike ||
		risk.APIFailureStreak >= r.cfg.APIStreakSoftLimit
}

func withoutModule(modules []models.StrategyModule, drop models.StrategyModule) []models.StrategyModule {
	out := make([]models.StrategyModule, 0, len(modules))
	for _, m := range modules {
		if m != drop {
			out = append(out, m)
		}
	}
	return out
}
