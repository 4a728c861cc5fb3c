package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用配置结构体
type Config struct {
	Server ServerConfig `yaml:"server"`
	App    AppConfig    `yaml:"app"`
	DB     DatabaseConfig `yaml:"db"`
	Auth   AuthConfig   `yaml:"auth"`
	Admin  AdminConfig  `yaml:"admin"`
	Log    LogConfig    `yaml:"log"`
	Redis  RedisConfig  `yaml:"redis"`
}

// ServerConfig 聊天 TCP 监听配置
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadIdleTimeout time.Duration `yaml:"read_idle_timeout"` // 单次读超时，用于探测已关闭的连接
}

// AppConfig 应用运行环境
type AppConfig struct {
	Env string `yaml:"env"` // dev | prod
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Charset  string `yaml:"charset"`
	MaxIdle  int    `yaml:"max_idle"`
	MaxOpen  int    `yaml:"max_open"`
	InitMode string `yaml:"init_mode"` // schema | never
}

// AuthConfig 密码哈希参数
type AuthConfig struct {
	HashIterations    int  `yaml:"hash_iterations"`
	LegacyHashSupport bool `yaml:"legacy_hash_support"`
}

// AdminConfig 管理端 HTTP 面板配置
type AdminConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Username     string        `yaml:"username"`
	PasswordHash string        `yaml:"password_hash"`
	JWTSecret    string        `yaml:"jwt_secret"`
	JWTIssuer    string        `yaml:"jwt_issuer"`
	JWTExpire    time.Duration `yaml:"jwt_expire"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`
	Filename   string `yaml:"filename"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// RedisConfig 历史缓存 / 广播中继配置
type RedisConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	HistoryTTL  time.Duration `yaml:"history_ttl"`
}

// LoadConfig 加载配置（混合方式：YAML文件 + 环境变量）
func LoadConfig() *Config {
	config := loadFromYAML("config/config.yaml")
	overrideWithEnvVars(config)
	return config
}

func loadFromYAML(filePath string) *Config {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return getDefaultConfig()
	}

	config := getDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return getDefaultConfig()
	}

	return config
}

func overrideWithEnvVars(config *Config) {
	if host := getEnv("SERVER_HOST", ""); host != "" {
		config.Server.Host = host
	}
	if port := getEnvInt("SERVER_PORT", 0); port > 0 {
		config.Server.Port = port
	}

	if host := getEnv("DB_HOST", ""); host != "" {
		config.DB.Host = host
	}
	if port := getEnvInt("DB_PORT", 0); port > 0 {
		config.DB.Port = port
	}
	if username := getEnv("DB_USERNAME", ""); username != "" {
		config.DB.Username = username
	}
	if password := getEnv("DB_PASSWORD", ""); password != "" {
		config.DB.Password = password
	}
	if database := getEnv("DB_DATABASE", ""); database != "" {
		config.DB.Database = database
	}
	if charset := getEnv("DB_CHARSET", ""); charset != "" {
		config.DB.Charset = charset
	}
	if maxIdle := getEnvInt("DB_MAX_IDLE", 0); maxIdle > 0 {
		config.DB.MaxIdle = maxIdle
	}
	if maxOpen := getEnvInt("DB_MAX_OPEN", 0); maxOpen > 0 {
		config.DB.MaxOpen = maxOpen
	}

	if iterations := getEnvInt("AUTH_HASH_ITERATIONS", 0); iterations > 0 {
		config.Auth.HashIterations = iterations
	}

	if secret := getEnv("ADMIN_JWT_SECRET", ""); secret != "" {
		config.Admin.JWTSecret = secret
	}
	if issuer := getEnv("ADMIN_JWT_ISSUER", ""); issuer != "" {
		config.Admin.JWTIssuer = issuer
	}

	if level := getEnv("LOG_LEVEL", ""); level != "" {
		config.Log.Level = level
	}
	if filename := getEnv("LOG_FILENAME", ""); filename != "" {
		config.Log.Filename = filename
	}

	if host := getEnv("REDIS_HOST", ""); host != "" {
		config.Redis.Host = host
	}
	if port := getEnvInt("REDIS_PORT", 0); port > 0 {
		config.Redis.Port = port
	}
	if password := getEnv("REDIS_PASSWORD", ""); password != "" {
		config.Redis.Password = password
	}
	if db := getEnvInt("REDIS_DB", -1); db >= 0 {
		config.Redis.DB = db
	}
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            9090,
			ReadIdleTimeout: 2 * time.Second,
		},
		App: AppConfig{
			Env: "prod",
		},
		DB: DatabaseConfig{
			Driver:   "mysql",
			Host:     "127.0.0.1",
			Port:     3306,
			Username: "chat",
			Password: "",
			Database: "chatcore",
			Charset:  "utf8mb4",
			MaxIdle:  10,
			MaxOpen:  100,
			InitMode: "schema",
		},
		Auth: AuthConfig{
			HashIterations:    120000,
			LegacyHashSupport: true,
		},
		Admin: AdminConfig{
			Host:      "0.0.0.0",
			Port:      9091,
			Username:  "admin",
			JWTSecret: "change-me",
			JWTIssuer: "chatcore-admin",
			JWTExpire: 2 * time.Hour,
		},
		Log: LogConfig{
			Level:      "info",
			Filename:   "logs/chatcore.log",
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     30,
			Compress:   true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Host:       "127.0.0.1",
			Port:       6379,
			Password:   "",
			DB:         0,
			HistoryTTL: 30 * time.Second,
		},
	}
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt 获取整数环境变量
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
