package strategy

import (
	"fmt"
	"sync/atomic"
	"time"

	"hars/internal/models"
)

// ============================================================
// Интерфейс стратегии и реестр
// ============================================================
//
// Стратегия - единственный источник ExecutionProposal. Она получает
// снапшот рынка и либо возвращает предложение с заполненными
// замороженными тегами, либо nil (нет сигнала). Решения о риске и
// размере принимаются ниже по конвейеру, стратегия задаёт только
// базовый размер.

// MarketView - снапшот рынка, передаваемый стратегии на тике
type MarketView struct {
	Symbol string
	Price  float64
	// Последние цены закрытия, от старых к новым
	Prices []float64
	Regime models.HTFRegime
	// Режим на предыдущем тике (для стратегий, чувствительных к смене)
	PrevRegime models.HTFRegime
	Auction    models.AuctionContext
	// Множитель волатильности от risk engine (1.0 = спокойный рынок).
	// Используется для расширения стопов, не для размера.
	VolMultiplier float64
}

// Strategy - торговый модуль, генерирующий предложения
type Strategy interface {
	// Name возвращает семейство стратегии (замороженный тег module)
	Name() models.StrategyModule
	// Basket возвращает группу коррелированных активов стратегии
	Basket() models.Basket
	// Propose возвращает предложение или nil если сигнала нет.
	// Предложение обязано проходить models.Validate.
	Propose(view *MarketView) *models.ExecutionProposal
}

// Registry - реестр стратегий по имени модуля
type Registry struct {
	byName map[models.StrategyModule]Strategy
}

// NewRegistry создаёт реестр из набора стратегий
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{byName: make(map[models.StrategyModule]Strategy, len(strategies))}
	for _, s := range strategies {
		r.byName[s.Name()] = s
	}
	return r
}

// Get возвращает стратегию по имени модуля
func (r *Registry) Get(name models.StrategyModule) (Strategy, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// Names возвращает имена всех зарегистрированных модулей
func (r *Registry) Names() []models.StrategyModule {
	names := make([]models.StrategyModule, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

var proposalSeq uint64

// newProposalID генерирует уникальный proposal_id.
// Формат: <module>-<symbol>-<unix_ms>-<seq>. Монотонный счётчик
// исключает коллизии при нескольких предложениях в одну миллисекунду.
func newProposalID(module models.StrategyModule, symbol string) string {
	seq := atomic.AddUint64(&proposalSeq, 1)
	return fmt.Sprintf("%s-%s-%d-%d", module, symbol, time.Now().UnixMilli(), seq)
}
