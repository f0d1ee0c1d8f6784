// Package bootstrap builds the dependencies shared by the Lambda entrypoints.
// Configuration is read from the environment only here and in cmd/.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"

	"studio-assistant/internal/hashing"
	"studio-assistant/internal/integrations/paramstore"
	"studio-assistant/internal/repository"
	"studio-assistant/internal/retry"
	"studio-assistant/internal/tenant"
)

// Common are the clients every function needs.
type Common struct {
	AWS     aws.Config
	Params  *paramstore.Cache
	Store   *repository.Client
	Tenants *tenant.Loader
	Hasher  *hashing.Hasher
	Policy  retry.Policy
}

// Load reads the shared environment and constructs Common. A local .env file
// is honoured when present.
func Load(ctx context.Context) (*Common, error) {
	_ = godotenv.Load()

	stateTable := MustEnv("STATE_TABLE")
	paramPrefix := MustEnv("PARAM_PREFIX")
	cacheTTL := EnvDuration("TENANT_CACHE_TTL", 5*time.Minute)

	policy := retry.DefaultPolicy
	policy.Timeout = EnvDuration("EXTERNAL_CALL_TIMEOUT", policy.Timeout)
	if n := EnvInt("EXTERNAL_CALL_ATTEMPTS", 0); n > 0 {
		policy.MaxAttempts = uint(n)
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load AWS config: %w", err)
	}

	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg), paramPrefix)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create SSM client: %w", err)
	}
	params, err := paramstore.NewCache(ssmClient, cacheTTL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create parameter cache: %w", err)
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create state client: %w", err)
	}
	tenants, err := tenant.NewLoader(params, cacheTTL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create tenant loader: %w", err)
	}

	salt, err := paramstore.Token(ctx, params, "hash-salt")
	if err != nil {
		return nil, fmt.Errorf("bootstrap: read hash salt: %w", err)
	}
	hasher, err := hashing.New(salt)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create hasher: %w", err)
	}

	return &Common{
		AWS:     cfg,
		Params:  params,
		Store:   store,
		Tenants: tenants,
		Hasher:  hasher,
		Policy:  policy,
	}, nil
}

// Fatal logs err and exits. Entrypoints use it for startup failures only.
func Fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}

func MustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func EnvOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func EnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func EnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
