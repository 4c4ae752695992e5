package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"hars/pkg/ratelimit"
	"hars/pkg/retry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	lighterDefaultBaseURL = "https://api.lighter.xyz"
	lighterRecvWindow     = "5000"

	// Категории rate limit (у Lighter ордерные эндпоинты лимитируются жёстче)
	limitOrder = "order"
	limitData  = "data"
)

// Lighter реализует интерфейс Adapter для биржи Lighter
type Lighter struct {
	apiKey    string
	secretKey string
	baseURL   string

	httpClient *http.Client
	limits     *ratelimit.MultiLimiter
	readRetry  retry.Config
}

// NewLighter создаёт адаптер Lighter.
// Использует глобальный HTTP клиент с connection pooling.
func NewLighter(apiKey, secretKey, baseURL string) *Lighter {
	if baseURL == "" {
		baseURL = lighterDefaultBaseURL
	}

	limits := ratelimit.NewMultiLimiter()
	limits.Add(limitOrder, 5, 10)
	limits.Add(limitData, 20, 40)

	// Read-only запросы повторяются conservative-политикой; ордерные
	// запросы не повторяются на этом уровне
	readRetry := retry.ConservativeConfig()
	readRetry.RetryIf = retry.RetryIfNotContext

	return &Lighter{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: GetGlobalHTTPClient().GetClient(),
		limits:     limits,
		readRetry:  readRetry,
	}
}

// Name возвращает имя биржи
func (l *Lighter) Name() string { return "lighter" }

// sign создаёт HMAC-SHA256 подпись запроса
func (l *Lighter) sign(timestamp, payload string) string {
	message := timestamp + l.apiKey + lighterRecvWindow + payload
	h := hmac.New(sha256.New, []byte(l.secretKey))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// lighterOrder - ордер в формате ответа Lighter API
type lighterOrder struct {
	OrderID       string  `json:"order_id"`
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Status        string  `json:"status"`
	FilledSize    float64 `json:"filled_size"`
	AvgPrice      float64 `json:"avg_price"`
	UpdatedAtMs   int64   `json:"updated_at"`
}

func (o *lighterOrder) toResult() *OrderResult {
	return &OrderResult{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Status:        o.Status,
		FilledSize:    o.FilledSize,
		AvgPrice:      o.AvgPrice,
		UpdatedAt:     time.UnixMilli(o.UpdatedAtMs),
	}
}

// doRequest выполняет подписанный HTTP запрос к Lighter API
func (l *Lighter) doRequest(ctx context.Context, category, method, endpoint string, params map[string]string) ([]byte, error) {
	if err := l.limits.Wait(ctx, category); err != nil {
		return nil, err
	}

	var reqBody string
	var reqURL string

	if method == http.MethodGet {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		reqBody = query.Encode()
		if reqBody != "" {
			reqURL = l.baseURL + endpoint + "?" + reqBody
		} else {
			reqURL = l.baseURL + endpoint
		}
	} else {
		reqURL = l.baseURL + endpoint
		if len(params) > 0 {
			jsonBytes, err := json.Marshal(params)
			if err != nil {
				return nil, err
			}
			reqBody = string(jsonBytes)
		}
	}

	var bodyReader io.Reader
	if method != http.MethodGet && reqBody != "" {
		bodyReader = strings.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("X-LIGHTER-API-KEY", l.apiKey)
	req.Header.Set("X-LIGHTER-SIGN", l.sign(timestamp, reqBody))
	req.Header.Set("X-LIGHTER-TIMESTAMP", timestamp)
	req.Header.Set("X-LIGHTER-RECV-WINDOW", lighterRecvWindow)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	// Проверяем базовый конверт ответа
	var baseResp struct {
		Code    int                 `json:"code"`
		Message string              `json:"message"`
		Data    jsoniter.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &baseResp); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || baseResp.Code != 0 {
		return nil, fmt.Errorf("api error code=%d msg=%s http=%d", baseResp.Code, baseResp.Message, resp.StatusCode)
	}

	return baseResp.Data, nil
}

// getData выполняет read-only GET к data-эндпоинту с retry
func (l *Lighter) getData(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	return retry.DoWithResult(ctx, func() ([]byte, error) {
		return l.doRequest(ctx, limitData, http.MethodGet, endpoint, params)
	}, l.readRetry)
}

// MarketOrder размещает рыночный ордер.
// clientOrderID передаётся бирже как idempotency key: Lighter
// возвращает существующий ордер при повторе с тем же ID.
func (l *Lighter) MarketOrder(ctx context.Context, symbol string, signedAmount float64, clientOrderID string) (*OrderResult, error) {
	side := "buy"
	amount := signedAmount
	if amount < 0 {
		side = "sell"
		amount = -amount
	}

	data, err := l.doRequest(ctx, limitOrder, http.MethodPost, "/api/v1/order", map[string]string{
		"symbol":          symbol,
		"side":            side,
		"type":            "market",
		"size":            strconv.FormatFloat(amount, 'f', -1, 64),
		"client_order_id": clientOrderID,
	})
	if err != nil {
		return nil, NewAPIError("lighter", "market_order", err.Error(), err)
	}

	var order lighterOrder
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, NewAPIError("lighter", "market_order", "malformed order payload", err)
	}
	return order.toResult(), nil
}

// CancelOrder отменяет ордер по биржевому ID
func (l *Lighter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	_, err := l.doRequest(ctx, limitOrder, http.MethodPost, "/api/v1/order/cancel", map[string]string{
		"symbol":   symbol,
		"order_id": orderID,
	})
	if err != nil {
		return NewAPIError("lighter", "cancel_order", err.Error(), err)
	}
	return nil
}

// GetOrderByClientID ищет ордер по client order id: сначала среди
// открытых, затем в истории. nil, nil если ордер не найден нигде.
func (l *Lighter) GetOrderByClientID(ctx context.Context, clientOrderID string) (*OrderResult, error) {
	for _, endpoint := range []string{"/api/v1/orders/open", "/api/v1/orders/history"} {
		data, err := l.getData(ctx, endpoint, map[string]string{
			"client_order_id": clientOrderID,
		})
		if err != nil {
			return nil, NewAPIError("lighter", "get_order_by_client_id", err.Error(), err)
		}

		var orders []lighterOrder
		if err := json.Unmarshal(data, &orders); err != nil {
			return nil, NewAPIError("lighter", "get_order_by_client_id", "malformed orders payload", err)
		}
		for i := range orders {
			if orders[i].ClientOrderID == clientOrderID {
				return orders[i].toResult(), nil
			}
		}
	}
	return nil, nil
}

// GetAccountState возвращает снапшот аккаунта
func (l *Lighter) GetAccountState(ctx context.Context) (*AccountSnapshot, error) {
	data, err := l.getData(ctx, "/api/v1/account", nil)
	if err != nil {
		return nil, NewAPIError("lighter", "get_account_state", err.Error(), err)
	}

	var payload struct {
		Balance   float64 `json:"balance"`
		Exposure  float64 `json:"exposure_usd"`
		Positions []struct {
			Symbol        string  `json:"symbol"`
			Side          string  `json:"side"`
			Size          float64 `json:"size"`
			EntryPrice    float64 `json:"entry_price"`
			UnrealizedPnl float64 `json:"unrealized_pnl"`
		} `json:"positions"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, NewAPIError("lighter", "get_account_state", "malformed account payload", err)
	}

	snap := &AccountSnapshot{
		Timestamp:   time.Now(),
		Balance:     payload.Balance,
		ExposureUSD: payload.Exposure,
	}
	for _, p := range payload.Positions {
		direction := "LONG"
		if strings.EqualFold(p.Side, "short") || strings.EqualFold(p.Side, "sell") {
			direction = "SHORT"
		}
		snap.Positions = append(snap.Positions, &AccountPosition{
			Symbol:        p.Symbol,
			Direction:     direction,
			Size:          p.Size,
			EntryPrice:    p.EntryPrice,
			UnrealizedPnl: p.UnrealizedPnl,
		})
	}
	return snap, nil
}

// GetPnl возвращает снапшот PnL (поля best-effort)
func (l *Lighter) GetPnl(ctx context.Context) (*PnlSnapshot, error) {
	data, err := l.getData(ctx, "/api/v1/pnl", nil)
	if err != nil {
		return nil, NewAPIError("lighter", "get_pnl", err.Error(), err)
	}

	var payload struct {
		RealizedPnl float64 `json:"realized_pnl"`
		DailyPnl    float64 `json:"daily_pnl"`
		DrawdownPct float64 `json:"drawdown_pct"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, NewAPIError("lighter", "get_pnl", "malformed pnl payload", err)
	}

	return &PnlSnapshot{
		Timestamp:   time.Now(),
		RealizedPnl: payload.RealizedPnl,
		DailyPnl:    payload.DailyPnl,
		DrawdownPct: payload.DrawdownPct,
	}, nil
}

// Close закрывает адаптер (HTTP клиент общий, закрывать нечего)
func (l *Lighter) Close() error { return nil }
