package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"
)

// ReadinessReporter is implemented by the invalidation consumer.
type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

// Pinger is a dependency that can be probed, such as the Redis tier.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Checks struct {
	Consumer ReadinessReporter // nil when invalidation is disabled
	Pingers  map[string]Pinger
	Timeout  time.Duration
}

type readiness struct {
	Status     string            `json:"status"`
	Partitions []int32           `json:"partitions,omitempty"`
	Checks     map[string]string `json:"checks,omitempty"`
}

// Readiness reports 503 until the consumer owns partitions and every pinger
// answers.
func Readiness(c Checks) http.HandlerFunc {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ready := true
		out := readiness{Checks: map[string]string{}}

		if c.Consumer != nil {
			ok, parts := c.Consumer.Readiness()
			if ok {
				out.Partitions = parts
				out.Checks["kafka"] = "ok"
			} else {
				ready = false
				out.Checks["kafka"] = "no partitions assigned"
			}
		}

		names := make([]string, 0, len(c.Pingers))
		for n := range c.Pingers {
			names = append(names, n)
		}
		slices.Sort(names)
		for _, n := range names {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			err := c.Pingers[n].Ping(ctx)
			cancel()
			if err != nil {
				ready = false
				out.Checks[n] = err.Error()
				continue
			}
			out.Checks[n] = "ok"
		}

		out.Status = "not_ready"
		if ready {
			out.Status = "ready"
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
