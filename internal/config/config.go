package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	apperrors "github.com/aihub/corpus-go/internal/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// 语料库目录布局
const (
	CorpusINI         = "corpus.ini"
	CorpusStateDB     = "corpus-state.db"
	CorpusAnnotations = "annotations"
	CorpusScripts     = "scripts"

	envPrefix = "CORPUS"
)

// CorpusConfig 语料库配置，对应corpus.ini
type CorpusConfig struct {
	Main         MainConfig         `mapstructure:"main" validate:"required"`
	Knowledge    KnowledgeConfig    `mapstructure:"knowledge"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Plugins      PluginsConfig      `mapstructure:"plugins"`
	Scripts      ScriptsConfig      `mapstructure:"scripts"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	MinIO        MinIOConfig        `mapstructure:"minio"`
	Log          LogConfig          `mapstructure:"log"`

	// Providers 各provider的配置段，例如 openai.api-key
	Providers map[string]map[string]string `mapstructure:"-"`

	path  string
	viper *viper.Viper
}

type MainConfig struct {
	Name         string   `mapstructure:"name" validate:"required"`
	LLM          string   `mapstructure:"llm" validate:"required"`
	Embeddings   string   `mapstructure:"embeddings"`
	VectorDB     string   `mapstructure:"vector-db" validate:"required"`
	DataSections []string `mapstructure:"data-sections"`
	StateDB      string   `mapstructure:"state-db"`
}

type KnowledgeConfig struct {
	ChunkSize         int           `mapstructure:"chunk-size" validate:"gt=0"`
	ChunkOverlap      int           `mapstructure:"chunk-overlap" validate:"gte=0,ltfield=ChunkSize"`
	MaxParallel       int           `mapstructure:"max-parallel" validate:"gte=1"`
	EmbedBatch        int           `mapstructure:"embed-batch" validate:"gte=1"`
	BinaryParsers     bool          `mapstructure:"binary-parsers"`
	EmbeddingCacheTTL time.Duration `mapstructure:"embedding-cache-ttl"`
}

type ConversationConfig struct {
	ContextSize    int  `mapstructure:"context-size" validate:"gte=1"`
	ShowSources    bool `mapstructure:"show-sources"`
	MemoryMaxTurns int  `mapstructure:"memory-max-turns" validate:"gte=0"`
}

type PluginsConfig struct {
	Dir          string        `mapstructure:"dir"`
	StartTimeout time.Duration `mapstructure:"start-timeout"`
}

type ScriptsConfig struct {
	Watch bool `mapstructure:"watch"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers" validate:"required_if=Enabled true"`
	Topic   string   `mapstructure:"topic"`
}

type MinIOConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	AccessKey string `mapstructure:"access-key"`
	SecretKey string `mapstructure:"secret-key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use-ssl"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DataSection corpus.ini中声明的文档集
type DataSection struct {
	Name      string
	Paths     []string
	Types     []string
	Recursive bool
}

var validate = validator.New()

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("main.embeddings", "")
	v.SetDefault("main.data-sections", "")
	v.SetDefault("main.state-db", "")

	v.SetDefault("knowledge.chunk-size", 1000)
	v.SetDefault("knowledge.chunk-overlap", 200)
	v.SetDefault("knowledge.max-parallel", 4)
	v.SetDefault("knowledge.embed-batch", 64)
	v.SetDefault("knowledge.binary-parsers", false)
	v.SetDefault("knowledge.embedding-cache-ttl", "10m")

	v.SetDefault("conversation.context-size", 15)
	v.SetDefault("conversation.show-sources", false)
	v.SetDefault("conversation.memory-max-turns", 0)

	v.SetDefault("plugins.dir", "plugins")
	v.SetDefault("plugins.start-timeout", "10s")

	v.SetDefault("scripts.watch", false)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "corpus-interactions")

	v.SetDefault("minio.enabled", false)
	v.SetDefault("minio.bucket", "corpus-annotations")
	v.SetDefault("minio.use-ssl", false)

	v.SetDefault("log.level", "info")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("ini")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Default 使用内置默认值构造配置，providers全部为本地实现
func Default(name string) *CorpusConfig {
	v := newViper()
	var cfg CorpusConfig
	// 默认值总能解码
	_ = v.Unmarshal(&cfg)
	cfg.Main = MainConfig{Name: name, LLM: "local", VectorDB: "local"}
	cfg.Providers = map[string]map[string]string{}
	return &cfg
}

// Load 读取corpus.ini，path可以是语料库目录或配置文件本身
func Load(path string) (*CorpusConfig, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, CorpusINI)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, apperrors.NewInvalidParameters("invalid config path %s", path).WithCause(err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, apperrors.NewInvalidParameters("config file not found: %s", abs).WithCause(err)
	}

	v := newViper()
	v.SetConfigFile(abs)
	if err := v.ReadInConfig(); err != nil {
		return nil, apperrors.NewInvalidConfigEntry("failed to read %s", abs).WithCause(err)
	}

	var cfg CorpusConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.NewInvalidConfigEntry("failed to decode %s", abs).WithCause(err)
	}
	cfg.path = abs
	cfg.viper = v
	cfg.Providers = map[string]map[string]string{}
	cfg.Main.DataSections = compact(cfg.Main.DataSections)
	cfg.Kafka.Brokers = compact(cfg.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置
func (c *CorpusConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return apperrors.NewInvalidConfigEntry("configuration validation failed").WithCause(err)
	}
	return nil
}

// Write 将配置写入dir/corpus.ini并返回重新加载的配置
func Write(dir string, cfg *CorpusConfig) (*CorpusConfig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	v := newViper()
	v.Set("main.name", cfg.Main.Name)
	v.Set("main.llm", cfg.Main.LLM)
	v.Set("main.embeddings", cfg.Main.Embeddings)
	v.Set("main.vector-db", cfg.Main.VectorDB)
	v.Set("main.data-sections", strings.Join(cfg.Main.DataSections, ","))
	v.Set("main.state-db", cfg.Main.StateDB)

	v.Set("knowledge.chunk-size", cfg.Knowledge.ChunkSize)
	v.Set("knowledge.chunk-overlap", cfg.Knowledge.ChunkOverlap)
	v.Set("knowledge.max-parallel", cfg.Knowledge.MaxParallel)
	v.Set("knowledge.embed-batch", cfg.Knowledge.EmbedBatch)
	v.Set("knowledge.binary-parsers", cfg.Knowledge.BinaryParsers)
	v.Set("knowledge.embedding-cache-ttl", cfg.Knowledge.EmbeddingCacheTTL.String())

	v.Set("conversation.context-size", cfg.Conversation.ContextSize)
	v.Set("conversation.show-sources", cfg.Conversation.ShowSources)
	v.Set("conversation.memory-max-turns", cfg.Conversation.MemoryMaxTurns)

	v.Set("plugins.dir", cfg.Plugins.Dir)
	v.Set("plugins.start-timeout", cfg.Plugins.StartTimeout.String())
	v.Set("scripts.watch", cfg.Scripts.Watch)

	v.Set("kafka.enabled", cfg.Kafka.Enabled)
	v.Set("kafka.brokers", strings.Join(cfg.Kafka.Brokers, ","))
	v.Set("kafka.topic", cfg.Kafka.Topic)

	v.Set("minio.enabled", cfg.MinIO.Enabled)
	v.Set("minio.endpoint", cfg.MinIO.Endpoint)
	v.Set("minio.access-key", cfg.MinIO.AccessKey)
	v.Set("minio.secret-key", cfg.MinIO.SecretKey)
	v.Set("minio.bucket", cfg.MinIO.Bucket)
	v.Set("minio.use-ssl", cfg.MinIO.UseSSL)

	v.Set("log.level", cfg.Log.Level)

	for section, entries := range cfg.Providers {
		for key, value := range entries {
			v.Set(section+"."+key, value)
		}
	}

	path := filepath.Join(dir, CorpusINI)
	if err := v.WriteConfigAs(path); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	return Load(path)
}

// Set 设置provider配置项，仅在写入前有效
func (c *CorpusConfig) Set(section, key, value string) {
	if c.Providers == nil {
		c.Providers = map[string]map[string]string{}
	}
	if c.Providers[section] == nil {
		c.Providers[section] = map[string]string{}
	}
	c.Providers[section][key] = value
}

// Setting 读取provider配置项，环境变量 CORPUS_<SECTION>_<KEY> 优先
func (c *CorpusConfig) Setting(section, key, def string) string {
	full := section + "." + key
	if c.viper != nil && c.viper.IsSet(full) {
		if value := c.viper.GetString(full); value != "" {
			return value
		}
	}
	if entries, ok := c.Providers[section]; ok {
		if value, ok := entries[key]; ok && value != "" {
			return value
		}
	}
	return def
}

// Path corpus.ini绝对路径
func (c *CorpusConfig) Path() string {
	return c.path
}

// Dir 语料库目录
func (c *CorpusConfig) Dir() string {
	if c.path == "" {
		return ""
	}
	return filepath.Dir(c.path)
}

// ResolvePath 相对路径以语料库目录为基准
func (c *CorpusConfig) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir(), p)
}

// EmbeddingsProvider 未单独配置时沿用llm provider
func (c *CorpusConfig) EmbeddingsProvider() string {
	if c.Main.Embeddings != "" {
		return c.Main.Embeddings
	}
	return c.Main.LLM
}

// StateDSN 会话数据库连接串，默认为语料库目录下的SQLite文件
func (c *CorpusConfig) StateDSN() string {
	if c.Main.StateDB != "" {
		return c.Main.StateDB
	}
	return filepath.Join(c.Dir(), CorpusStateDB)
}

func (c *CorpusConfig) AnnotationsDir() string {
	return filepath.Join(c.Dir(), CorpusAnnotations)
}

func (c *CorpusConfig) ScriptsDir() string {
	return filepath.Join(c.Dir(), CorpusScripts)
}

// DataSection 读取data-sections中声明的文档集
func (c *CorpusConfig) DataSection(name string) (DataSection, error) {
	found := false
	for _, s := range c.Main.DataSections {
		if s == name {
			found = true
			break
		}
	}
	if !found {
		return DataSection{}, apperrors.NewInvalidConfigEntry("invalid data section: %s", name)
	}

	section := DataSection{
		Name:      c.Setting(name, "name", name),
		Paths:     splitList(c.Setting(name, "paths", "")),
		Types:     splitList(c.Setting(name, "types", "Text")),
		Recursive: strings.EqualFold(c.Setting(name, "recursive", "false"), "true"),
	}
	for i, p := range section.Paths {
		section.Paths[i] = c.ResolvePath(p)
	}
	if len(section.Paths) == 0 {
		return DataSection{}, apperrors.NewInvalidConfigEntry("data section %s has no paths", name)
	}
	return section, nil
}

// SectionKeys 返回某配置段下的全部键
func (c *CorpusConfig) SectionKeys(section string) []string {
	seen := map[string]bool{}
	if c.viper != nil {
		for key := range c.viper.GetStringMapString(section) {
			seen[key] = true
		}
	}
	for key := range c.Providers[section] {
		seen[key] = true
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func splitList(s string) []string {
	return compact(strings.Split(s, ","))
}

func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
