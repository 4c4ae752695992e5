package api

import (
	"net/http"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"hars/internal/api/middleware"
	"hars/internal/bot"
	"hars/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Ops surface торгового ядра. Только чтение состояния, метрики и
// единственная мутация - операторский сброс kill switch.
//
// Структура маршрутов:
//
//	GET  /health            - liveness
//	GET  /metrics           - prometheus
//	GET  /api/v1/risk       - снапшот risk engine
//	GET  /api/v1/portfolio  - снапшот портфеля
//	GET  /api/v1/orders     - отслеживаемые ордера
//	GET  /api/v1/modules    - статистика модулей стратегий
//	POST /api/v1/risk/reset - сброс kill switch (ручная операция)

// Deps - зависимости ops surface
type Deps struct {
	Engine *bot.Engine
	Log    *zap.Logger
}

// SetupRoutes настраивает HTTP маршруты ops surface
func SetupRoutes(deps *Deps) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery(deps.Log))
	router.Use(middleware.Logging(deps.Log))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	// Сводный снимок состояния бота одним запросом
	api.HandleFunc("/state", func(w http.ResponseWriter, r *http.Request) {
		orders := deps.Engine.TrackedOrders()
		if orders == nil {
			orders = []models.TrackedOrder{}
		}
		writeJSON(w, map[string]interface{}{
			"risk":      deps.Engine.RiskSnapshot(),
			"portfolio": deps.Engine.PortfolioSnapshot(),
			"orders":    orders,
			"modules":   deps.Engine.ModuleStats(),
		})
	}).Methods("GET")

	api.HandleFunc("/risk", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Engine.RiskSnapshot())
	}).Methods("GET")

	api.HandleFunc("/portfolio", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Engine.PortfolioSnapshot())
	}).Methods("GET")

	api.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		orders := deps.Engine.TrackedOrders()
		if orders == nil {
			orders = []models.TrackedOrder{}
		}
		writeJSON(w, orders)
	}).Methods("GET")

	api.HandleFunc("/modules", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Engine.ModuleStats())
	}).Methods("GET")

	// Единственный путь снять kill switch - явное действие оператора
	api.HandleFunc("/risk/reset", func(w http.ResponseWriter, r *http.Request) {
		deps.Engine.ResetKillSwitch()
		deps.Log.Warn("kill switch reset requested via ops api",
			zap.String("remote", r.RemoteAddr))
		writeJSON(w, deps.Engine.RiskSnapshot())
	}).Methods("POST")

	return router
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding error", http.StatusInternalServerError)
	}
}
