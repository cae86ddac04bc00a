package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"github.com/joho/godotenv"
)

// Load reads the .env file specified by RECON_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("RECON_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Missing files are fine; the process env still applies.
	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func envInt64(key string, def int64) int64 {
	v, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func envFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

// ServerPort returns the HTTP listen port.
func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8090
	}
	return port
}

// ServerAddr returns the listen address built from ServerPort.
func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}

// ExecutionMode defaults to live; unknown values fall back to live too.
func ExecutionMode() domain.ExecutionMode {
	m := strings.ToLower(os.Getenv("EXECUTION_MODE"))
	if !domain.ValidExecutionMode(m) {
		return domain.ModeLive
	}
	return domain.ExecutionMode(m)
}

// MaxParallel caps concurrent agents in a parallel stage.
func MaxParallel() int {
	n := envInt("MAX_PARALLEL", 4)
	if n == 0 {
		return 4
	}
	return n
}

// EnableCaching toggles the idempotency result cache.
func EnableCaching() bool { return envBool("ENABLE_CACHING", true) }

func StreamDeltas() bool { return envBool("STREAM_DELTAS", true) }

// PriorWeight is the non-informative prior weight W of the ledger.
func PriorWeight() float64 { return envFloat("PRIOR_WEIGHT", 2) }

// RunBudget reads BUDGET_* limits. Zero means unlimited.
func RunBudget() domain.BudgetLimits {
	return domain.BudgetLimits{
		MaxTimeMs:          envInt64("BUDGET_MAX_TIME_MS", 0),
		MaxTokens:          envInt64("BUDGET_MAX_TOKENS", 0),
		MaxNetworkRequests: envInt64("BUDGET_MAX_NETWORK_REQUESTS", 0),
		MaxToolInvocations: envInt64("BUDGET_MAX_TOOL_INVOCATIONS", 0),
	}
}

// VerifierConcurrency is the number of probes run per batch.
func VerifierConcurrency() int {
	n := envInt("VERIFIER_CONCURRENCY", 3)
	if n == 0 {
		return 3
	}
	return n
}

// VerifierQueueSize bounds the verification queue.
func VerifierQueueSize() int {
	n := envInt("VERIFIER_QUEUE_SIZE", 100)
	if n == 0 {
		return 100
	}
	return n
}

// VerifierBatchDelay may be set to 0 to disable pacing.
func VerifierBatchDelay() time.Duration {
	return time.Duration(envInt("VERIFIER_BATCH_DELAY_MS", 500)) * time.Millisecond
}

func ArbiterEntropyThreshold() float64 { return envFloat("ARBITER_ENTROPY_THRESHOLD", 0.5) }

func MetaCogUncertaintyThreshold() float64 {
	return envFloat("METACOG_UNCERTAINTY_THRESHOLD", 0.6)
}

// MetaCogWindow is how many recent claims metacognition inspects.
func MetaCogWindow() int {
	n := envInt("METACOG_WINDOW", 100)
	if n == 0 {
		return 100
	}
	return n
}

func MetaCogControversyThreshold() int { return envInt("METACOG_CONTROVERSY_THRESHOLD", 0) }

// PipelineFile is empty when the built-in pipeline should be used.
func PipelineFile() string {
	return os.Getenv("PIPELINE_FILE")
}

// SnapshotPath is the JSON snapshot file used when DATABASE_URL is unset.
func SnapshotPath() string {
	p := os.Getenv("SNAPSHOT_PATH")
	if p == "" {
		return "world-model.json"
	}
	return p
}

// DatabaseURL selects the Postgres snapshot store when set.
func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// RedisURL selects the Redis result cache when set.
func RedisURL() string {
	return os.Getenv("REDIS_URL")
}

// NATSURL enables the delta bridge when set.
func NATSURL() string {
	return os.Getenv("NATS_URL")
}

// NATSSubjectPrefix prefixes every forwarded delta subject.
func NATSSubjectPrefix() string {
	p := os.Getenv("NATS_SUBJECT_PREFIX")
	if p == "" {
		return "recon.deltas"
	}
	return p
}

func ProbeRPS() float64 { return envFloat("PROBE_RPS", 5) }

// ProbeTimeout bounds a single HTTP probe.
func ProbeTimeout() time.Duration {
	ms := envInt("PROBE_TIMEOUT_MS", 10000)
	if ms == 0 {
		ms = 10000
	}
	return time.Duration(ms) * time.Millisecond
}

// APIToken protects mutating endpoints with a bearer token when set.
func APIToken() string {
	return os.Getenv("API_TOKEN")
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 { return envFloat("RATE_LIMIT_RPS", 100) }

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}
