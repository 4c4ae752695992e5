package exchange

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"
)

// HTTPClientConfig содержит настройки HTTP клиента для биржевого REST API
type HTTPClientConfig struct {
	// Таймауты соединения
	ConnectTimeout time.Duration // таймаут установки TCP соединения
	TotalTimeout   time.Duration // общий таймаут операции

	// Connection pooling
	MaxIdleConns        int           // максимум idle соединений
	MaxIdleConnsPerHost int           // максимум idle соединений на хост
	MaxConnsPerHost     int           // максимум соединений на хост
	IdleConnTimeout     time.Duration // таймаут простоя соединения

	// TLS
	TLSHandshakeTimeout time.Duration

	// Keep-Alive
	DisableKeepAlives bool
	KeepAliveInterval time.Duration
}

// DefaultHTTPClientConfig возвращает конфигурацию по умолчанию.
// Параметры подобраны под торговые операции: быстрый connect,
// переиспользование соединений, жёсткий общий таймаут.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		ConnectTimeout: 5 * time.Second,
		TotalTimeout:   30 * time.Second,

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout: 5 * time.Second,

		DisableKeepAlives: false,
		KeepAliveInterval: 30 * time.Second,
	}
}

// HTTPClient - оптимизированный HTTP клиент для биржевого API
// с connection pooling и детальными таймаутами
type HTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

// globalClient - глобальный HTTP клиент для переиспользования connection pool
var (
	globalClient     *HTTPClient
	globalClientOnce sync.Once
)

// GetGlobalHTTPClient возвращает глобальный HTTP клиент с настройками по умолчанию
func GetGlobalHTTPClient() *HTTPClient {
	globalClientOnce.Do(func() {
		globalClient = NewHTTPClient(DefaultHTTPClientConfig())
	})
	return globalClient
}

// NewHTTPClient создаёт HTTP клиент с заданной конфигурацией
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: cfg.KeepAliveInterval,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		DisableKeepAlives:     cfg.DisableKeepAlives,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &HTTPClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.TotalTimeout,
		},
		config: cfg,
	}
}

// GetClient возвращает сырой *http.Client
func (h *HTTPClient) GetClient() *http.Client {
	return h.client
}

// Do выполняет запрос, привязывая его к ctx
func (h *HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return h.client.Do(req.WithContext(ctx))
}
