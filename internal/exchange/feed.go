package exchange

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================
// WebSocket price feed с автоматическим переподключением
// ============================================================

// FeedConfig - конфигурация переподключения price feed
type FeedConfig struct {
	// Начальная задержка перед переподключением
	InitialDelay time.Duration
	// Максимальная задержка (после exponential backoff)
	MaxDelay time.Duration
	// Максимальное количество попыток (0 = бесконечно)
	MaxRetries int
	// Таймаут подключения
	ConnectTimeout time.Duration
	// Интервал ping для проверки соединения
	PingInterval time.Duration
	// Таймаут ожидания pong
	PongTimeout time.Duration
}

// DefaultFeedConfig возвращает конфигурацию по умолчанию (2s, 4s, 8s, 16s)
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		InitialDelay:   2 * time.Second,
		MaxDelay:       16 * time.Second,
		MaxRetries:     0,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   30 * time.Second,
		PongTimeout:    10 * time.Second,
	}
}

// FeedState - состояние соединения price feed
type FeedState int32

const (
	FeedDisconnected FeedState = iota
	FeedConnecting
	FeedConnected
	FeedReconnecting
	FeedClosed
)

func (s FeedState) String() string {
	switch s {
	case FeedDisconnected:
		return "disconnected"
	case FeedConnecting:
		return "connecting"
	case FeedConnected:
		return "connected"
	case FeedReconnecting:
		return "reconnecting"
	case FeedClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// tickerMessage - формат тикера в WS потоке Lighter
type tickerMessage struct {
	Channel string  `json:"channel"`
	Symbol  string  `json:"symbol"`
	Bid     float64 `json:"bid"`
	Ask     float64 `json:"ask"`
	Last    float64 `json:"last"`
	TsMs    int64   `json:"ts"`
}

// PriceFeed - WebSocket поток тикеров с автопереподключением.
//
// Последний тикер по каждому символу кэшируется; торговый цикл читает
// цены из кэша и никогда не ходит в сеть за ценой. Разрыв соединения
// не роняет цикл: цены просто перестают обновляться до reconnect.
type PriceFeed struct {
	wsURL   string
	symbols []string
	config  FeedConfig

	conn   *websocket.Conn
	connMu sync.Mutex

	state      int32 // atomic FeedState
	retryCount int32 // atomic

	last   map[string]*Ticker
	lastMu sync.RWMutex

	onTicker func(*Ticker)

	closeOnce sync.Once
	closeChan chan struct{}
}

// NewPriceFeed создаёт фид для набора символов
func NewPriceFeed(wsURL string, symbols []string, config FeedConfig) *PriceFeed {
	return &PriceFeed{
		wsURL:     wsURL,
		symbols:   symbols,
		config:    config,
		last:      make(map[string]*Ticker),
		closeChan: make(chan struct{}),
	}
}

// SetOnTicker устанавливает callback на каждый входящий тикер
func (f *PriceFeed) SetOnTicker(handler func(*Ticker)) {
	f.onTicker = handler
}

// State возвращает текущее состояние соединения
func (f *PriceFeed) State() FeedState {
	return FeedState(atomic.LoadInt32(&f.state))
}

// Last возвращает последний тикер по символу (nil если ещё не было)
func (f *PriceFeed) Last(symbol string) *Ticker {
	f.lastMu.RLock()
	defer f.lastMu.RUnlock()
	if t, ok := f.last[symbol]; ok {
		c := *t
		return &c
	}
	return nil
}

// Start подключается и держит соединение до Close/отмены ctx.
// Блокирует: запускать в отдельной горутине.
func (f *PriceFeed) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.closeChan:
			return nil
		default:
		}

		if err := f.connect(ctx); err != nil {
			if !f.backoff(ctx) {
				return fmt.Errorf("price feed: retries exhausted: %w", err)
			}
			continue
		}

		// readLoop возвращается при разрыве; уходим на переподключение
		f.readLoop(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.closeChan:
			return nil
		default:
		}

		atomic.StoreInt32(&f.state, int32(FeedReconnecting))
		if !f.backoff(ctx) {
			return fmt.Errorf("price feed: retries exhausted")
		}
	}
}

// connect устанавливает соединение и подписывается на тикеры
func (f *PriceFeed) connect(ctx context.Context) error {
	atomic.StoreInt32(&f.state, int32(FeedConnecting))

	dialCtx, cancel := context.WithTimeout(ctx, f.config.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: f.config.ConnectTimeout}
	conn, _, err := dialer.DialContext(dialCtx, f.wsURL, nil)
	if err != nil {
		atomic.StoreInt32(&f.state, int32(FeedDisconnected))
		return fmt.Errorf("dial error: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.config.PingInterval + f.config.PongTimeout))
	})

	// Подписка на тикеры всех символов
	sub := map[string]interface{}{
		"op":      "subscribe",
		"channel": "ticker",
		"symbols": f.symbols,
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		atomic.StoreInt32(&f.state, int32(FeedDisconnected))
		return fmt.Errorf("subscribe error: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	atomic.StoreInt32(&f.state, int32(FeedConnected))
	atomic.StoreInt32(&f.retryCount, 0)
	return nil
}

// readLoop читает сообщения до разрыва соединения
func (f *PriceFeed) readLoop(ctx context.Context) {
	f.connMu.Lock()
	conn := f.conn
	f.connMu.Unlock()
	if conn == nil {
		return
	}
	defer conn.Close()

	pingTicker := time.NewTicker(f.config.PingInterval)
	defer pingTicker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(f.config.PingInterval + f.config.PongTimeout))
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f.handleMessage(raw)
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-f.closeChan:
			return
		case <-pingTicker.C:
			_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(f.config.PongTimeout))
		}
	}
}

// handleMessage разбирает тикер и обновляет кэш
func (f *PriceFeed) handleMessage(raw []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return // служебное или неизвестное сообщение
	}
	if msg.Channel != "ticker" || msg.Symbol == "" {
		return
	}

	t := &Ticker{
		Symbol:    msg.Symbol,
		BidPrice:  msg.Bid,
		AskPrice:  msg.Ask,
		LastPrice: msg.Last,
		Timestamp: time.UnixMilli(msg.TsMs),
	}

	f.lastMu.Lock()
	f.last[msg.Symbol] = t
	f.lastMu.Unlock()

	if f.onTicker != nil {
		f.onTicker(t)
	}
}

// backoff ждёт перед переподключением (exponential, capped).
// Возвращает false если попытки исчерпаны или фид закрывается.
func (f *PriceFeed) backoff(ctx context.Context) bool {
	retry := atomic.AddInt32(&f.retryCount, 1)
	if f.config.MaxRetries > 0 && int(retry) > f.config.MaxRetries {
		return false
	}

	delay := f.config.InitialDelay
	for i := int32(1); i < retry; i++ {
		delay *= 2
		if delay >= f.config.MaxDelay {
			delay = f.config.MaxDelay
			break
		}
	}

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	case <-f.closeChan:
		return false
	}
}

// Close закрывает фид
func (f *PriceFeed) Close() error {
	f.closeOnce.Do(func() {
		close(f.closeChan)
		atomic.StoreInt32(&f.state, int32(FeedClosed))
		f.connMu.Lock()
		if f.conn != nil {
			f.conn.Close()
		}
		f.connMu.Unlock()
	})
	return nil
}
