package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv       = "COMPANY_RESEARCHER_CONFIG"
	databaseDSNEnv      = "DATABASE_DSN"
	chatGPTAPIKeyEnv    = "CHATGPT_API_KEY"
	chatGPTModelEnv     = "CHATGPT_MODEL"
	searchAPIKeyEnv     = "SEARCH_API_KEY"
	recordSyncAPIKeyEnv = "RECORD_SYNC_API_KEY"
	telegramTokenEnv    = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv   = "TELEGRAM_CHAT_ID"
	kafkaBrokersEnv     = "KAFKA_BROKERS"
	elasticAddrEnv      = "ELASTICSEARCH_ADDR"
	logLevelEnv         = "LOG_LEVEL"
	httpAddrEnv         = "HTTP_ADDR"

	defaultCapacity = 5
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging        LoggingConfig        `yaml:"logging"`
	Server         ServerConfig         `yaml:"server"`
	Admission      AdmissionConfig      `yaml:"admission"`
	Pipeline       PipelineConfig       `yaml:"pipeline"`
	Curation       CurationConfig       `yaml:"curation"`
	Categories     []CategoryConfig     `yaml:"categories"`
	Search         SearchConfig         `yaml:"search"`
	Crawler        CrawlerConfig        `yaml:"crawler"`
	ChatGPT        ChatGPTConfig        `yaml:"chatgpt"`
	Classification ClassificationConfig `yaml:"classification"`
	Database       DatabaseConfig       `yaml:"database"`
	RecordSync     RecordSyncConfig     `yaml:"recordSync"`
	Archive        ArchiveConfig        `yaml:"archive"`
	Events         EventsConfig         `yaml:"events"`
	Notifications  NotificationConfig   `yaml:"notifications"`
	Retention      RetentionConfig      `yaml:"retention"`
}

// LoggingConfig selects slog level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// AdmissionConfig bounds how many jobs run at once.
type AdmissionConfig struct {
	Capacity int `yaml:"capacity"`
}

// PipelineConfig tunes stage-level limits.
type PipelineConfig struct {
	MaxReferences         int           `yaml:"maxReferences"`
	MaxContentLength      int           `yaml:"maxContentLength"`
	SynthesisConcurrency  int           `yaml:"synthesisConcurrency"`
	EnrichmentConcurrency int           `yaml:"enrichmentConcurrency"`
	MaxDocumentLength     int           `yaml:"maxDocumentLength"`
	MaxContextLength      int           `yaml:"maxContextLength"`
	GeneratedQueries      int           `yaml:"generatedQueries"`
	StageTimeout          time.Duration `yaml:"stageTimeout"`
	MinSubstantiveContent int           `yaml:"minSubstantiveContent"`
}

// CurationConfig tunes the document curator.
type CurationConfig struct {
	Threshold            float64  `yaml:"threshold"`
	MaxDocuments         int      `yaml:"maxDocuments"`
	MinFirstPartyContent int      `yaml:"minFirstPartyContent"`
	OfficialMarkers      []string `yaml:"officialMarkers"`
	TopicMarkers         []string `yaml:"topicMarkers"`
}

// CategoryConfig describes one collection branch.
type CategoryConfig struct {
	Name              string   `yaml:"name"`
	Label             string   `yaml:"label"`
	Queries           []string `yaml:"queries"`
	IncludeSiteScrape bool     `yaml:"includeSiteScrape"`
	BriefingPrompt    string   `yaml:"briefingPrompt"`
	Topic             string   `yaml:"topic"`
}

// SearchConfig points at the web search API.
type SearchConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"apiKey"`
	MaxResults int           `yaml:"maxResults"`
	RetryMax   int           `yaml:"retryMax"`
	Timeout    time.Duration `yaml:"timeout"`
}

// CrawlerConfig limits first-party crawling.
type CrawlerConfig struct {
	MaxPages  int           `yaml:"maxPages"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"userAgent"`
}

// ChatGPTConfig defines how to contact the ChatGPT API.
type ChatGPTConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"apiKey"`
	SystemPrompt string        `yaml:"systemPrompt"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ClassificationConfig lists the allowed tag values.
type ClassificationConfig struct {
	Industries    []string `yaml:"industries"`
	Regions       []string `yaml:"regions"`
	RevenueBands  []string `yaml:"revenueBands"`
	MaxIndustries int      `yaml:"maxIndustries"`
}

// DatabaseConfig describes the job store. Empty DSN keeps jobs in memory only.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RecordSyncConfig points at the external record store.
type RecordSyncConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"apiKey"`
	Table    string `yaml:"table"`
}

// ArchiveConfig points at the Elasticsearch context archive.
type ArchiveConfig struct {
	ElasticsearchAddr string `yaml:"elasticsearchAddr"`
	Index             string `yaml:"index"`
}

// EventsConfig enables the Kafka progress stream.
type EventsConfig struct {
	KafkaBrokers []string `yaml:"kafkaBrokers"`
	Topic        string   `yaml:"topic"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// RetentionConfig controls pruning of finished jobs from memory.
type RetentionConfig struct {
	Interval time.Duration `yaml:"interval"`
	MaxAge   time.Duration `yaml:"maxAge"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
// An empty path falls back to the COMPANY_RESEARCHER_CONFIG variable.
func Load(path string) Config {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			log.Printf("config: %v (falling back to defaults)", err)
		} else {
			cfg = fileCfg
		}
	}

	cfg.applyEnvOverrides()
	cfg.normalize()
	return cfg
}

// LoadFile decodes a YAML file on top of the defaults.
func LoadFile(path string) (Config, error) {
	cfg := defaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return defaultConfig(), fmt.Errorf("cannot parse %s: %w", path, err)
	}

	cfg.normalize()
	return cfg, nil
}

// CategoryNames returns configured categories in order.
func (c Config) CategoryNames() []string {
	names := make([]string, 0, len(c.Categories))
	for _, cat := range c.Categories {
		names = append(names, cat.Name)
	}
	return names
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(chatGPTAPIKeyEnv); v != "" {
		c.ChatGPT.APIKey = v
	}
	if v := os.Getenv(chatGPTModelEnv); v != "" {
		c.ChatGPT.Model = v
	}
	if v := os.Getenv(searchAPIKeyEnv); v != "" {
		c.Search.APIKey = v
	}
	if v := os.Getenv(recordSyncAPIKeyEnv); v != "" {
		c.RecordSync.APIKey = v
	}
	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
	if v := os.Getenv(kafkaBrokersEnv); v != "" {
		c.Events.KafkaBrokers = splitList(v)
	}
	if v := os.Getenv(elasticAddrEnv); v != "" {
		c.Archive.ElasticsearchAddr = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(httpAddrEnv); v != "" {
		c.Server.Addr = v
	}
}

func (c *Config) normalize() {
	def := defaultConfig()

	if c.Admission.Capacity <= 0 {
		log.Printf("config: admission capacity %d is invalid, reverting to %d", c.Admission.Capacity, defaultCapacity)
		c.Admission.Capacity = defaultCapacity
	}
	if c.Curation.Threshold <= 0 || c.Curation.Threshold > 1 {
		log.Printf("config: curation threshold %v is invalid, reverting to %v", c.Curation.Threshold, def.Curation.Threshold)
		c.Curation.Threshold = def.Curation.Threshold
	}
	if c.Curation.MaxDocuments <= 0 {
		c.Curation.MaxDocuments = def.Curation.MaxDocuments
	}
	if c.Pipeline.SynthesisConcurrency <= 0 {
		c.Pipeline.SynthesisConcurrency = def.Pipeline.SynthesisConcurrency
	}
	if c.Pipeline.EnrichmentConcurrency <= 0 {
		c.Pipeline.EnrichmentConcurrency = def.Pipeline.EnrichmentConcurrency
	}
	if c.Pipeline.MaxReferences <= 0 {
		c.Pipeline.MaxReferences = def.Pipeline.MaxReferences
	}
	if c.Retention.Interval <= 0 {
		c.Retention.Interval = def.Retention.Interval
	}

	seen := map[string]bool{}
	categories := make([]CategoryConfig, 0, len(c.Categories))
	for _, cat := range c.Categories {
		cat.Name = strings.TrimSpace(cat.Name)
		if cat.Name == "" || seen[cat.Name] {
			log.Printf("config: skipping category with empty or duplicate name %q", cat.Name)
			continue
		}
		seen[cat.Name] = true
		if cat.Label == "" {
			cat.Label = cat.Name
		}
		categories = append(categories, cat)
	}
	if len(categories) == 0 {
		categories = def.Categories
	}
	c.Categories = categories
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultConfig() Config {
	return Config{
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Server:    ServerConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Admission: AdmissionConfig{Capacity: defaultCapacity},
		Pipeline: PipelineConfig{
			MaxReferences:         10,
			MaxContentLength:      20000,
			SynthesisConcurrency:  3,
			EnrichmentConcurrency: 10,
			MaxDocumentLength:     8000,
			MaxContextLength:      120000,
			GeneratedQueries:      2,
			StageTimeout:          3 * time.Minute,
			MinSubstantiveContent: 200,
		},
		Curation: CurationConfig{
			Threshold:            0.4,
			MaxDocuments:         30,
			MinFirstPartyContent: 500,
			OfficialMarkers: []string{
				"impact report", "esg report", "sustainability report", "csr report",
				"annual report", "10-k", "regulatory filing",
			},
			TopicMarkers: []string{"food waste", "food loss"},
		},
		Categories: []CategoryConfig{
			{
				Name:              "company",
				Label:             "Company Overview",
				IncludeSiteScrape: true,
				Queries:           []string{"{company} company overview", "{company} {industry} products and operations"},
				BriefingPrompt:    "Summarize what the company does, its size, footprint and business lines.",
			},
			{
				Name:           "news",
				Label:          "Recent News",
				Queries:        []string{"{company} news", "{company} announcement {location}"},
				BriefingPrompt: "Summarize the most relevant recent news, with dates where available.",
				Topic:          "news",
			},
			{
				Name:           "sustainability",
				Label:          "Sustainability",
				Queries:        []string{"{company} sustainability report", "{company} food waste commitments"},
				BriefingPrompt: "Summarize sustainability commitments, targets and reported progress.",
			},
			{
				Name:           "contacts",
				Label:          "Key Contacts",
				Queries:        []string{"{company} leadership team", "{company} head of sustainability"},
				BriefingPrompt: "List leadership and sustainability contacts with their roles.",
			},
			{
				Name:           "engagement",
				Label:          "Engagement Opportunities",
				Queries:        []string{"{company} partnerships", "{company} industry coalition membership"},
				BriefingPrompt: "Describe partnerships, coalitions and public engagements.",
			},
		},
		Search: SearchConfig{
			Endpoint:   "https://api.tavily.com",
			MaxResults: 5,
			RetryMax:   3,
			Timeout:    20 * time.Second,
		},
		Crawler: CrawlerConfig{MaxPages: 15, Timeout: 20 * time.Second, UserAgent: "CompanyResearcher/1.0"},
		ChatGPT: ChatGPTConfig{
			Endpoint:     "https://api.openai.com/v1/chat/completions",
			Model:        "gpt-4o-mini",
			SystemPrompt: "You are a research analyst writing concise, factual company briefings.",
			Timeout:      60 * time.Second,
		},
		Classification: ClassificationConfig{
			Industries: []string{
				"Food Retail", "Food Manufacturing", "Restaurants", "Hospitality", "Food Service",
				"Agriculture", "Distribution & Logistics", "Technology", "Other",
			},
			Regions:       []string{"North America", "Europe", "Asia Pacific", "Latin America", "Middle East & Africa", "Global"},
			RevenueBands:  []string{"<$10M", "$10M-$100M", "$100M-$1B", "$1B-$10B", ">$10B", "Unknown"},
			MaxIndustries: 3,
		},
		Archive:   ArchiveConfig{Index: "research-context"},
		Events:    EventsConfig{Topic: "research-progress"},
		Retention: RetentionConfig{Interval: 10 * time.Minute, MaxAge: 24 * time.Hour},
	}
}
