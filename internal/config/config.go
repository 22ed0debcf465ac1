// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Parser        ParserConfig        `mapstructure:"parser"`
	Knowledge     KnowledgeConfig     `mapstructure:"knowledge"`
	Booking       BookingConfig       `mapstructure:"booking"`
	Connector     ConnectorConfig     `mapstructure:"connector"`
	Orchestrator  OrchestratorConfig  `mapstructure:"orchestrator"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	Driver string       `mapstructure:"driver"` // mysql | sqlite
	MySQL  MySQLConfig  `mapstructure:"mysql"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
	Redis  RedisConfig  `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// SQLiteConfig 用于本地开发。
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig 控制 agent 之间的服务令牌。ServiceSecret 为空时不校验。
type AuthConfig struct {
	ServiceSecret   string `mapstructure:"service_secret"`
	ServiceName     string `mapstructure:"service_name"`
	TokenTTLMinutes int    `mapstructure:"token_ttl_minutes"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string        `mapstructure:"server_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"` // openai | hash
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
	Cache      string `mapstructure:"cache"` // redis | memory | none
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// ParserConfig 控制症状/意图解析方式。
type ParserConfig struct {
	Mode      string `mapstructure:"mode"` // llm | keyword
	MaxReasks int    `mapstructure:"max_reasks"`
}

// KnowledgeConfig 控制知识检索。
type KnowledgeConfig struct {
	IndexBackend string `mapstructure:"index_backend"` // memory | elasticsearch
	DefaultTopK  int    `mapstructure:"default_top_k"`
	MaxTopK      int    `mapstructure:"max_top_k"`
	RefreshSpec  string `mapstructure:"refresh_spec"`
	SeedFile     string `mapstructure:"seed_file"`
}

// BookingConfig 存储预约相关的配置。
type BookingConfig struct {
	DefaultDoctor string              `mapstructure:"default_doctor"`
	DefaultUser   string              `mapstructure:"default_user"`
	SlotMinutes   int                 `mapstructure:"slot_minutes"`
	WorkingHours  []WorkingHoursRange `mapstructure:"working_hours"`
}

// WorkingHoursRange 是一个半开区间 [Start, End)，格式 HH:MM。
type WorkingHoursRange struct {
	Start string `mapstructure:"start"`
	End   string `mapstructure:"end"`
}

// ConnectorConfig 存储 Tool Connector 调用各 agent 的配置。
type ConnectorConfig struct {
	BaseURL       string            `mapstructure:"base_url"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	RatePerSecond float64           `mapstructure:"rate_per_second"`
	Burst         int               `mapstructure:"burst"`
	Agents        map[string]string `mapstructure:"agents"`
}

// OrchestratorConfig 控制请求生命周期。
type OrchestratorConfig struct {
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	StepTimeout     time.Duration `mapstructure:"step_timeout"`
	MaxHistoryTurns int           `mapstructure:"max_history_turns"`
}

// Init 从指定路径读取 YAML 文件并解析到 Conf 变量中。
// 同目录或工作目录下的 .env 会先被加载，环境变量 MEDASSIST_<SECTION>_<KEY> 覆盖文件中的值。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = *cfg
}

// Load 读取配置但不修改全局变量。
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MEDASSIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.sqlite.path", "medassist.db")
	v.SetDefault("auth.service_name", "orchestrator")
	v.SetDefault("auth.token_ttl_minutes", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.group_id", "medassist-knowledge-ingest")
	v.SetDefault("tika.timeout", 60*time.Second)
	v.SetDefault("elasticsearch.index_name", "knowledge_items")
	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.cache", "redis")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("parser.mode", "llm")
	v.SetDefault("parser.max_reasks", 1)
	v.SetDefault("knowledge.index_backend", "memory")
	v.SetDefault("knowledge.default_top_k", 3)
	v.SetDefault("knowledge.max_top_k", 20)
	v.SetDefault("knowledge.refresh_spec", "@every 5m")
	v.SetDefault("knowledge.seed_file", "initfile/knowledge.json")
	v.SetDefault("booking.default_doctor", "General Practitioner")
	v.SetDefault("booking.default_user", "default_user")
	v.SetDefault("booking.slot_minutes", 30)
	v.SetDefault("connector.base_url", "http://127.0.0.1:8081")
	v.SetDefault("connector.timeout", 30*time.Second)
	v.SetDefault("connector.rate_per_second", 20.0)
	v.SetDefault("connector.burst", 40)
	v.SetDefault("orchestrator.request_timeout", 60*time.Second)
	v.SetDefault("orchestrator.step_timeout", 30*time.Second)
	v.SetDefault("orchestrator.max_history_turns", 10)
}
