package tlsutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// aeadSuites is the TLS 1.2 allow-list; TLS 1.3 suites are not configurable.
var aeadSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// DefaultTLSConfig returns TLS 1.2+ with AEAD-only cipher suites.
func DefaultTLSConfig() *tls.Config {
	suites := make([]uint16, len(aeadSuites))
	copy(suites, aeadSuites)
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: suites,
	}
}

// SecureTransport 返回加固的 Transport。
// responseHeaderTimeout 为 0 时不限制等待响应头的时间（流式接口首包可能很慢）。
func SecureTransport(responseHeaderTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: DefaultTLSConfig(),
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: responseHeaderTimeout,
		ExpectContinueTimeout: time.Second,
	}
}

// SecureHTTPClient is for plain request/response calls bounded by timeout.
func SecureHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: SecureTransport(0),
	}
}

// StreamingHTTPClient has no client-wide timeout: long-lived event streams are
// bounded by the request context instead.
func StreamingHTTPClient() *http.Client {
	return &http.Client{
		Transport: SecureTransport(0),
	}
}

// RedisTLSConfig returns the hardened config when enabled and nil otherwise,
// which is what redis.Options.TLSConfig expects for plaintext connections.
func RedisTLSConfig(enabled bool, serverName string) *tls.Config {
	if !enabled {
		return nil
	}
	cfg := DefaultTLSConfig()
	cfg.ServerName = serverName
	return cfg
}
