package config

import (
	"os"
	"strconv"
	"strings"
)

// Config представляет конфигурацию приложения
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Kafka     KafkaConfig     `json:"kafka"`
	Logger    LoggerConfig    `json:"logger"`
	Cache     CacheConfig     `json:"cache"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Dispatch  DispatchConfig  `json:"dispatch"`
}

// ServerConfig представляет конфигурацию HTTP сервера
type ServerConfig struct {
	Port         string `json:"port"`
	Host         string `json:"host"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
}

// DatabaseConfig представляет конфигурацию базы данных
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig представляет конфигурацию Redis
type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// KafkaConfig представляет конфигурацию Kafka
type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	GroupID string   `json:"group_id"`
	Topics  Topics   `json:"topics"`
}

// Topics представляет список топиков Kafka
type Topics struct {
	Gigs      string `json:"gigs"`
	Workers   string `json:"workers"`
	Locations string `json:"locations"`
	Payments  string `json:"payments"`
}

// LoggerConfig представляет конфигурацию логгера
type LoggerConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	File   string `json:"file"`
}

// CacheConfig представляет конфигурацию кеширования
type CacheConfig struct {
	Enabled    bool `json:"enabled"`
	DefaultTTL int  `json:"default_ttl"`  // TTL для обычных данных (секунды)
	HotDataTTL int  `json:"hot_data_ttl"` // TTL для горячих данных (секунды)
}

// RateLimitConfig представляет конфигурацию rate limiting
type RateLimitConfig struct {
	Enabled     bool `json:"enabled"`
	DefaultRPM  int  `json:"default_rpm"`
	VIPRPM      int  `json:"vip_rpm"`
	BanDuration int  `json:"ban_duration"` // секунды
}

// DispatchConfig представляет политику диспетчеризации
type DispatchConfig struct {
	DefaultRadiusMiles  float64 `json:"default_radius_miles"`
	MaxRadiusMiles      float64 `json:"max_radius_miles"`
	MinCandidates       int     `json:"min_candidates"`
	DispatchTimeout     int     `json:"dispatch_timeout"`      // секунды до Expired
	HeartbeatFreshness  int     `json:"heartbeat_freshness"`   // окно свежести heartbeat (секунды)
	ExpirySweepInterval int     `json:"expiry_sweep_interval"` // период фонового expirer'а (секунды)
	AvgSpeedMph         float64 `json:"avg_speed_mph"`         // для оценки ETA
}

// Load загружает конфигурацию из переменных окружения
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 10),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "dispatch_user"),
			Password: getEnv("DB_PASSWORD", "dispatch_pass"),
			DBName:   getEnv("DB_NAME", "gig_dispatch"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			GroupID: getEnv("KAFKA_GROUP_ID", "gig-dispatch"),
			Topics: Topics{
				Gigs:      getEnv("KAFKA_TOPIC_GIGS", "gigs"),
				Workers:   getEnv("KAFKA_TOPIC_WORKERS", "workers"),
				Locations: getEnv("KAFKA_TOPIC_LOCATIONS", "locations"),
				Payments:  getEnv("KAFKA_TOPIC_PAYMENTS", "payments"),
			},
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			File:   getEnv("LOG_FILE", ""),
		},
		Cache: CacheConfig{
			Enabled:    getEnv("CACHE_ENABLED", "true") == "true",
			DefaultTTL: getEnvAsInt("CACHE_DEFAULT_TTL", 300), // 5 минут
			HotDataTTL: getEnvAsInt("CACHE_HOT_DATA_TTL", 60), // 1 минута
		},
		RateLimit: RateLimitConfig{
			Enabled:     getEnv("RATE_LIMIT_ENABLED", "true") == "true",
			DefaultRPM:  getEnvAsInt("RATE_LIMIT_DEFAULT_RPM", 120),
			VIPRPM:      getEnvAsInt("RATE_LIMIT_VIP_RPM", 600),
			BanDuration: getEnvAsInt("RATE_LIMIT_BAN_DURATION", 300),
		},
		Dispatch: DispatchConfig{
			DefaultRadiusMiles:  getEnvAsFloat("DISPATCH_DEFAULT_RADIUS_MILES", 10),
			MaxRadiusMiles:      getEnvAsFloat("DISPATCH_MAX_RADIUS_MILES", 50),
			MinCandidates:       getEnvAsInt("DISPATCH_MIN_CANDIDATES", 3),
			DispatchTimeout:     getEnvAsInt("DISPATCH_TIMEOUT", 300), // 5 минут
			HeartbeatFreshness:  getEnvAsInt("DISPATCH_HEARTBEAT_FRESHNESS", 90),
			ExpirySweepInterval: getEnvAsInt("DISPATCH_EXPIRY_SWEEP_INTERVAL", 30),
			AvgSpeedMph:         getEnvAsFloat("DISPATCH_AVG_SPEED_MPH", 18),
		},
	}
}

// getEnv получает значение переменной окружения с значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt получает значение переменной окружения как int с значением по умолчанию
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsFloat получает значение переменной окружения как float64 с значением по умолчанию
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}
