package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"UProject/logger"
	"UProject/tools/decode"
	"UProject/tools/ids"
)

// Unit kinds. A node runs exactly one unit; the kind decides which RPC
// surface and which sync destinations it carries.
const (
	UnitKindUser       = "user"
	UnitKindGroup      = "group"
	UnitKindCommunity  = "community"
	UnitKindLocalIndex = "localIndex"
	UnitKindUserIndex  = "userIndex"
)

// RetryPolicy holds the cross-unit delivery knobs. Thresholds are
// configuration, not constants: deployments tune them per destination kind.
type RetryPolicy struct {
	MaxAttempts       int           `json:"maxAttempts"`       // abandon after this many failed dispatches
	BaseBackoff       time.Duration `json:"baseBackoff"`       // first retry delay
	MaxBackoff        time.Duration `json:"maxBackoff"`        // backoff ceiling
	RequestTimeout    time.Duration `json:"requestTimeout"`    // per cross-unit call
	IdempotencyWindow time.Duration `json:"idempotencyWindow"` // received-id retention
}

type BatchCaps struct {
	UserEvents  int `json:"userEvents"`  // per-user event batch cap
	IndexEvents int `json:"indexEvents"` // local/global index batch cap
}

type UnitConfig struct {
	UnitID   string `json:"unitId"`
	UnitKind string `json:"unitKind"`
	Port     int    `json:"port"`
	NodeID   int64  `json:"nodeId"`
	LogLevel string `json:"logLevel"`

	NatsServers   []string `json:"natsServers"`
	RedisAddr     string   `json:"redisAddr"`
	RedisPassword string   `json:"redisPassword"`
	RedisDB       int      `json:"redisDb"`
	MongoURI      string   `json:"mongoUri"`
	MongoDatabase string   `json:"mongoDatabase"`
	KafkaBrokers  []string `json:"kafkaBrokers"`
	NotifyTopic   string   `json:"notifyTopic"`

	JwtSecret string `json:"jwtSecret"`

	// Destination units this node syncs to.
	LocalIndexUnit string `json:"localIndexUnit"`
	StorageUnit    string `json:"storageUnit"`

	Retry RetryPolicy `json:"retry"`
	Batch BatchCaps   `json:"batch"`
}

var (
	global UnitConfig
	once   sync.Once
)

// Defaults mirror what a single-node dev deployment needs.
func defaults() UnitConfig {
	return UnitConfig{
		UnitID:         "unit-local",
		UnitKind:       UnitKindGroup,
		Port:           8080,
		NodeID:         1,
		LogLevel:       "info",
		NatsServers:    []string{"nats://127.0.0.1:4222"},
		RedisAddr:      "127.0.0.1:6379",
		MongoURI:       "mongodb://127.0.0.1:27017",
		MongoDatabase:  "uchat",
		KafkaBrokers:   []string{"127.0.0.1:9092"},
		NotifyTopic:    "unit_notifications",
		LocalIndexUnit: "local-index-1",
		StorageUnit:    "storage-1",
		Retry: RetryPolicy{
			MaxAttempts:       10,
			BaseBackoff:       time.Second,
			MaxBackoff:        5 * time.Minute,
			RequestTimeout:    10 * time.Second,
			IdempotencyWindow: time.Hour,
		},
		Batch: BatchCaps{
			UserEvents:  5,
			IndexEvents: 100,
		},
	}
}

// Init loads the config once: defaults, then the raw section map (decoded
// from the node's config file by the caller), then env overrides.
func Init(section map[string]any) error {
	var initErr error
	once.Do(func() {
		global = defaults()
		if section != nil {
			loaded, err := decode.DecodeMap[UnitConfig](section)
			if err != nil {
				initErr = err
				return
			}
			merge(&global, loaded)
		}
		applyEnv(&global)

		logger.SetLevel(global.LogLevel)
		ids.SetNodeID(global.NodeID)
		logger.Infof("unit config loaded id=%s kind=%s port=%d", global.UnitID, global.UnitKind, global.Port)
	})
	return initErr
}

// Get returns the loaded config. Init must have run.
func Get() UnitConfig {
	return global
}

func merge(dst *UnitConfig, src *UnitConfig) {
	if src.UnitID != "" {
		dst.UnitID = src.UnitID
	}
	if src.UnitKind != "" {
		dst.UnitKind = src.UnitKind
	}
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.NodeID != 0 {
		dst.NodeID = src.NodeID
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if len(src.NatsServers) > 0 {
		dst.NatsServers = src.NatsServers
	}
	if src.RedisAddr != "" {
		dst.RedisAddr = src.RedisAddr
	}
	if src.RedisPassword != "" {
		dst.RedisPassword = src.RedisPassword
	}
	if src.RedisDB != 0 {
		dst.RedisDB = src.RedisDB
	}
	if src.MongoURI != "" {
		dst.MongoURI = src.MongoURI
	}
	if src.MongoDatabase != "" {
		dst.MongoDatabase = src.MongoDatabase
	}
	if len(src.KafkaBrokers) > 0 {
		dst.KafkaBrokers = src.KafkaBrokers
	}
	if src.NotifyTopic != "" {
		dst.NotifyTopic = src.NotifyTopic
	}
	if src.JwtSecret != "" {
		dst.JwtSecret = src.JwtSecret
	}
	if src.LocalIndexUnit != "" {
		dst.LocalIndexUnit = src.LocalIndexUnit
	}
	if src.StorageUnit != "" {
		dst.StorageUnit = src.StorageUnit
	}
	if src.Retry.MaxAttempts != 0 {
		dst.Retry.MaxAttempts = src.Retry.MaxAttempts
	}
	if src.Retry.BaseBackoff != 0 {
		dst.Retry.BaseBackoff = src.Retry.BaseBackoff
	}
	if src.Retry.MaxBackoff != 0 {
		dst.Retry.MaxBackoff = src.Retry.MaxBackoff
	}
	if src.Retry.RequestTimeout != 0 {
		dst.Retry.RequestTimeout = src.Retry.RequestTimeout
	}
	if src.Retry.IdempotencyWindow != 0 {
		dst.Retry.IdempotencyWindow = src.Retry.IdempotencyWindow
	}
	if src.Batch.UserEvents != 0 {
		dst.Batch.UserEvents = src.Batch.UserEvents
	}
	if src.Batch.IndexEvents != 0 {
		dst.Batch.IndexEvents = src.Batch.IndexEvents
	}
}

func applyEnv(c *UnitConfig) {
	if v := os.Getenv("UNIT_ID"); v != "" {
		c.UnitID = v
	}
	if v := os.Getenv("UNIT_KIND"); v != "" {
		c.UnitKind = v
	}
	if v := os.Getenv("UNIT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("NATS_SERVERS"); v != "" {
		c.NatsServers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		c.MongoURI = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.KafkaBrokers = strings.Split(v, ",")
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.JwtSecret = v
	}
}
