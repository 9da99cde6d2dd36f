package bot

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"time"

	"go.uber.org/zap"

	"discord-invite-tracker/internal/metrics"
)

// newHTTPClient returns the pooled REST client, instrumented per request.
func newHTTPClient() *http.Client {
	tr := &http.Transport{
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   50,
		IdleConnTimeout:       120 * time.Second,
		ForceAttemptHTTP2:     true,
		MaxConnsPerHost:       50,
		ResponseHeaderTimeout: 10 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: &PerfTransport{Base: tr},
		Timeout:   20 * time.Second,
	}
}

// PerfTransport records the latency of every Discord REST call.
type PerfTransport struct {
	Base http.RoundTripper
}

func (t *PerfTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.Base.RoundTrip(req)
	status := 0
	if err == nil {
		status = resp.StatusCode
	}
	metrics.RecordREST(req.Method, status, time.Since(start))
	return resp, err
}

// startMetricsServer serves /metrics and the pprof handlers when an address
// is configured.
func (b *Bot) startMetricsServer() {
	addr := b.cfg.Metrics.Addr
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	b.metrics = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		b.Logger.Info("Starting metrics server", zap.String("addr", addr))
		if err := b.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.Logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()
}

// monitorHeartbeat logs gateway latency every 30 seconds.
func (b *Bot) monitorHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		latency := b.Session.HeartbeatLatency()
		rt := metrics.Runtime()
		fields := []zap.Field{
			zap.Duration("latency", latency),
			zap.Int("goroutines", rt.Goroutines),
			zap.Uint64("heap_mb", rt.HeapAllocMB),
		}
		switch {
		case latency >= 500*time.Millisecond:
			b.Logger.Warn("Gateway latency high", fields...)
		default:
			b.Logger.Debug("Gateway heartbeat", fields...)
		}
	}
}
