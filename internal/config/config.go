package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	BackendRedis = "redis"
	BackendS3    = "s3"
	BackendBolt  = "bolt"
)

const defaultMaxBodyBytes = 200_000_000

type Config struct {
	ListenAddr      string
	AuthToken       string
	Backend         string
	RedisAddr       string
	RedisDB         int
	RedisPassword   string
	RedisPoolSize   int
	S3Endpoint      string
	S3Region        string
	S3Bucket        string
	S3Prefix        string
	S3AccessKey     string
	S3SecretKey     string
	BoltPath        string
	CacheTTLSeconds int
	RunTTLSeconds   int
	MaxBodyBytes    int64
	VerboseErrors   bool
	LogLevel        string
	LogFormat       string
}

func Load() (Config, error) {
	cfg := Config{
		ListenAddr:      getenv("NXCACHE_LISTEN_ADDR", ":3000"),
		AuthToken:       os.Getenv("NXCACHE_AUTH_TOKEN"),
		Backend:         strings.ToLower(getenv("NXCACHE_BACKEND", BackendRedis)),
		RedisAddr:       getenv("NXCACHE_REDIS_ADDR", "localhost:6379"),
		RedisDB:         getenvInt("NXCACHE_REDIS_DB", 0),
		RedisPassword:   os.Getenv("NXCACHE_REDIS_PASSWORD"),
		RedisPoolSize:   getenvInt("NXCACHE_REDIS_POOL_SIZE", 10),
		S3Endpoint:      getenv("NXCACHE_S3_ENDPOINT", ""),
		S3Region:        getenv("NXCACHE_S3_REGION", ""),
		S3Bucket:        getenv("NXCACHE_S3_BUCKET", ""),
		S3Prefix:        getenv("NXCACHE_S3_PREFIX", ""),
		S3AccessKey:     os.Getenv("NXCACHE_S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("NXCACHE_S3_SECRET_KEY"),
		BoltPath:        getenv("NXCACHE_BOLT_PATH", "nxcache.db"),
		CacheTTLSeconds: getenvInt("NXCACHE_CACHE_TTL_SECONDS", 0),
		RunTTLSeconds:   getenvInt("NXCACHE_RUN_TTL_SECONDS", 3600),
		MaxBodyBytes:    int64(getenvInt("NXCACHE_MAX_BODY_BYTES", defaultMaxBodyBytes)),
		VerboseErrors:   getenvBool("NXCACHE_VERBOSE_ERRORS", false),
		LogLevel:        getenv("NXCACHE_LOG_LEVEL", "info"),
		LogFormat:       getenv("NXCACHE_LOG_FORMAT", "json"),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.AuthToken) == "" {
		return errors.New("NXCACHE_AUTH_TOKEN is required")
	}
	switch c.Backend {
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.New("NXCACHE_REDIS_ADDR is required")
		}
		if c.RedisPoolSize < 1 {
			return errors.New("NXCACHE_REDIS_POOL_SIZE must be at least 1")
		}
		if c.RunTTLSeconds < 1 {
			return errors.New("NXCACHE_RUN_TTL_SECONDS must be at least 1")
		}
	case BackendS3:
		if c.S3Endpoint == "" || c.S3Bucket == "" || c.S3AccessKey == "" || c.S3SecretKey == "" {
			return errors.New("S3 endpoint/bucket/access/secret are required")
		}
	case BackendBolt:
		if c.BoltPath == "" {
			return errors.New("NXCACHE_BOLT_PATH is required")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.CacheTTLSeconds < 0 {
		return errors.New("NXCACHE_CACHE_TTL_SECONDS must not be negative")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("NXCACHE_MAX_BODY_BYTES must be positive")
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
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

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
