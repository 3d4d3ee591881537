// Copyright 2023 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/common/expfmt"
	"gvisor.dev/kcounter/pkg/log"
	"gvisor.dev/kcounter/pkg/metric"
	"gvisor.dev/kcounter/pkg/sentry/kernel"
)

// httpTimeout is the timeout used for all connect/read/write operations of the HTTP server.
const httpTimeout = 1 * time.Minute

// httpResult is returned by HTTP handlers.
type httpResult struct {
	code int
	err  error
}

// httpOK is the "everything went fine" HTTP result.
var httpOK = httpResult{code: http.StatusOK}

// metricHandler serves kernel metrics in Prometheus text format.
type metricHandler struct {
	k *kernel.Kernel
}

// serveIndex serves the index page.
func (m *metricHandler) serveIndex(w http.ResponseWriter, req *http.Request) httpResult {
	if req.URL.Path != "/" {
		return httpResult{http.StatusNotFound, errors.New("path not found")}
	}
	fmt.Fprintf(w, "<html><head><title>kcounter metrics</title></head><body>")
	fmt.Fprintf(w, `<p>Metric data is at <a href="/metrics">/metrics</a>.</p>`)
	fmt.Fprintf(w, "</body></html>")
	return httpOK
}

// serveMetrics serves registered metrics plus the live counter value.
func (m *metricHandler) serveMetrics(w http.ResponseWriter, req *http.Request) httpResult {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return httpResult{http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", req.Method)}
	}
	open, shutdown := 0.0, 0.0
	if m.k.Device.IsOpen() {
		open = 1
	}
	if m.k.IsShutdown() {
		shutdown = 1
	}
	w.Header().Set("Content-Type", string(expfmt.FmtText))
	if err := metric.WriteText(w,
		metric.NewGaugeFamily(metric.Prefix+"counter_value", "Current value of the shared counter.", float64(m.k.Counter.Snapshot())),
		metric.NewGaugeFamily(metric.Prefix+"device_open", "Whether a device session is open.", open),
		metric.NewGaugeFamily(metric.Prefix+"max_threads", "Worker thread budget.", float64(m.k.MaxThreads())),
		metric.NewGaugeFamily(metric.Prefix+"shutdown", "Whether the kernel has shut down.", shutdown),
	); err != nil {
		return httpResult{http.StatusInternalServerError, err}
	}
	return httpOK
}

// logRequest wraps an HTTP handler and adds logging to it.
func logRequest(f func(w http.ResponseWriter, req *http.Request) httpResult) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		log.Debugf("Request: %s %s", req.Method, req.URL.Path)
		defer func() {
			if r := recover(); r != nil {
				log.Warningf("Request: %s %s: Panic:\n%v", req.Method, req.URL.Path, r)
			}
		}()
		result := f(w, req)
		if result.err != nil {
			http.Error(w, result.err.Error(), result.code)
			log.Warningf("Request: %s %s: Failed with HTTP code %d: %v", req.Method, req.URL.Path, result.code, result.err)
		}
	}
}

// newMetricMux returns the metric server's request router.
func newMetricMux(k *kernel.Kernel) *http.ServeMux {
	m := &metricHandler{k: k}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", logRequest(m.serveMetrics))
	mux.HandleFunc("/", logRequest(m.serveIndex))
	return mux
}

// serveMetrics serves metrics on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, k *kernel.Kernel) error {
	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("cannot listen on TCP address %q: %w", addr, err)
	}
	srv := &http.Server{
		Handler:      newMetricMux(k),
		ReadTimeout:  httpTimeout,
		WriteTimeout: httpTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	// Run GC to start serving from a clean slate.
	runtime.GC()
	log.Infof("Metric server serving on %s", listener.Addr())
	if err := srv.Serve(listener); err != http.ErrServerClosed {
		return fmt.Errorf("cannot serve on address %s: %w", addr, err)
	}
	log.Infof("Metric server has stopped accepting requests.")
	return nil
}
