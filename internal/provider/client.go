package provider

import (
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// NewOpenAIClient builds the single OpenAI-compatible client shared by the embedder and chat model.
// baseURL may point at any OpenAI-compatible server; empty keeps the default endpoint.
// Per-call deadlines come from the caller's context so long chat streams are not cut by a client timeout.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   20,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 60 * time.Second,
		},
	}
	return openai.NewClientWithConfig(cfg)
}
