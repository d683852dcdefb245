// Package metricsx extends github.com/VictoriaMetrics/metrics.
package metricsx

import (
	"net/http"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"
)

// Serve exposes the global VictoriaMetrics registry as a Prometheus text
// endpoint on addr, blocking until the listener fails. Grounded on
// pkg/atlas/server.go's "/metrics" handler, simplified to the root-only,
// single-registry case this launcher needs (no per-handler metric sets to
// merge).
func Serve(addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	log.Info().Str("addr", addr).Msg("starting metrics server")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn().Err(err).Msg("metrics server stopped")
	}
}

// WithLabels appends label key/value pairs to a VictoriaMetrics metric
// name, preserving whatever label set name already carries (splitting it
// back apart first) so repeated calls compose instead of clobbering each
// other. Grounded on pkg/api/api0/metrics.go's per-user-agent/geohash
// dynamic counter names, generalized from one fixed extra label to any
// number of them.
func WithLabels(name string, kv ...string) string {
	base, arg := splitName(name)
	return formatName(base, arg, kv...)
}

func splitName(name string) (base, arg string) {
	if n := len(name); n != 0 {
		base = name
		for i, r := range base {
			if r == '{' {
				if j := len(base) - 1; j > i && base[j] == '}' {
					base, arg = base[:i], base[i+1:j]
					break
				}
			}
		}
	}
	return
}

func formatName(base, arg string, args ...string) string {
	var b strings.Builder
	b.WriteString(base)
	b.WriteByte('{')
	if arg != "" {
		b.WriteString(arg)
	}
	for i := 1; i < len(args); i += 2 {
		if arg != "" || i > 1 {
			b.WriteByte(',')
		}
		b.WriteString(args[i-1])
		b.WriteString("=\"")
		b.WriteString(args[i])
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}
