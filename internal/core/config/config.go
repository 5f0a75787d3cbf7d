package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers string
	GroupID string
	// "oldest" replays the retained topic on first join, anything else
	// starts from new events only
	StartFrom  string
	DedupeSize int
}

type CacheCfg struct {
	Size         int
	RedisEnabled bool
	TTL          time.Duration
	OpTimeout    time.Duration
	// per-dataset TTL overrides, "2mass=1h,sdss=10m"
	TTLOvr map[string]time.Duration
}

type Config struct {
	Addr           string
	LogLevel       string
	LogConsole     bool
	LogSampleN     int // keep one in N debug/info lines, 0 keeps all
	MetricsEnabled bool
	MetricsPath    string
	MocServerURL   string
	DatasetsFile   string
	MocDir         string
	DefaultOrder   int
	FetchTimeout   time.Duration
	RedisAddr      string
	Cache          CacheCfg
	Invalidation   InvalidationCfg
}

func FromEnv() Config {
	order := getint("DEFAULT_ORDER", 10)
	if order < 0 {
		order = 0
	}
	if order > 29 {
		order = 29
	}

	return Config{
		Addr:           getenv("ADDR", ":8090"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogConsole:     getbool("LOG_CONSOLE", false),
		LogSampleN:     max(getint("LOG_SAMPLE_N", 0), 0),
		MetricsEnabled: getbool("METRICS_ENABLED", true),
		MetricsPath:    getenv("METRICS_PATH", "/metrics"),
		MocServerURL:   getenv("MOCSERVER_URL", "https://alasky.cds.unistra.fr/MocServer/query"),
		DatasetsFile:   getenv("DATASETS_FILE", ""),
		MocDir:         getenv("MOC_DIR", ""),
		DefaultOrder:   order,
		FetchTimeout:   getduration("FETCH_TIMEOUT", 10*time.Second),
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		Cache: CacheCfg{
			Size:         max(getint("CACHE_SIZE", 128), 1),
			RedisEnabled: getbool("REDIS_ENABLED", false),
			TTL:          getduration("CACHE_TTL", time.Hour),
			OpTimeout:    getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
			TTLOvr:       parseDurationMap(getenv("CACHE_TTL_OVERRIDES", "")),
		},
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "coverage-invalidation"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "coverage-invalidator"),

			StartFrom:  getenv("KAFKA_START_FROM", "newest"),
			DedupeSize: getint("KAFKA_DEDUPE_SIZE", 4096),
		},
	}
}

// TTLFor returns the Redis TTL for a dataset, honouring overrides.
func (c CacheCfg) TTLFor(dataset string) time.Duration {
	if d, ok := c.TTLOvr[dataset]; ok {
		return d
	}
	return c.TTL
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "2mass=5m,sdss=30s" into map
func parseDurationMap(s string) map[string]time.Duration {
	out := map[string]time.Duration{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	parts := strings.SplitSeq(s, ",")
	for p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			out[k] = d
		}
	}
	return out
}
