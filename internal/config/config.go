// Package config loads service configuration from defaults, an optional
// YAML file, an optional .env file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider names.
const (
	ProviderMock      = "mock"
	ProviderGoogle    = "google"
	ProviderDeepgram  = "deepgram"
	ProviderAzure     = "azure"
	ProviderMJPEG     = "mjpeg"
	ProviderSynthetic = "synthetic"
)

// Config is the complete service configuration.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	STT           STTConfig           `yaml:"stt"`
	Deepgram      DeepgramConfig      `yaml:"deepgram"`
	Vision        VisionConfig        `yaml:"vision"`
	Video         VideoConfig         `yaml:"video"`
	Sampling      SamplingConfig      `yaml:"sampling"`
	Output        OutputConfig        `yaml:"output"`
	Chat          ChatConfig          `yaml:"chat"`
	TTS           TTSConfig           `yaml:"tts"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServiceConfig struct {
	Principal     string `yaml:"principal"`
	GRPCPort      string `yaml:"grpcPort"`
	HTTPAddr      string `yaml:"httpAddr"`
	QueueCapacity int    `yaml:"queueCapacity"`
}

type STTConfig struct {
	Provider       string        `yaml:"provider"` // mock, google, deepgram
	LanguageCode   string        `yaml:"languageCode"`
	SampleRateHz   int           `yaml:"sampleRateHz"`
	InterimResults bool          `yaml:"interimResults"`
	AudioEncoding  string        `yaml:"audioEncoding"`
	AudioSource    string        `yaml:"audioSource"` // PCM file or FIFO path, "-" for stdin
	MaxRestarts    int           `yaml:"maxRestarts"`
	RestartBackoff time.Duration `yaml:"restartBackoff"`
}

type DeepgramConfig struct {
	APIKey   string `yaml:"apiKey"`
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
}

type VisionConfig struct {
	Provider string `yaml:"provider"` // mock, azure, google
	Endpoint string `yaml:"endpoint"`
	Key      string `yaml:"key"`
}

type VideoConfig struct {
	Provider string  `yaml:"provider"` // synthetic, mjpeg
	URL      string  `yaml:"url"`
	FPS      float64 `yaml:"fps"` // synthetic frame rate
}

type SamplingConfig struct {
	Interval     time.Duration `yaml:"interval"`
	FrameTimeout time.Duration `yaml:"frameTimeout"`
}

type OutputConfig struct {
	Dir string `yaml:"dir"`
}

type ChatConfig struct {
	OpenAIKey       string `yaml:"openaiKey"`
	Model           string `yaml:"model"`
	BaseURL         string `yaml:"baseUrl"`
	AzureEndpoint   string `yaml:"azureEndpoint"`
	AzureKey        string `yaml:"azureKey"`
	AzureDeployment string `yaml:"azureDeployment"`
	AzureAPIVersion string `yaml:"azureApiVersion"`
}

// Enabled reports whether any chat backend is configured.
func (c ChatConfig) Enabled() bool {
	return c.OpenAIKey != "" || c.AzureEndpoint != ""
}

type TTSConfig struct {
	APIKey  string `yaml:"apiKey"`
	VoiceID string `yaml:"voiceId"`
	ModelID string `yaml:"modelId"`
}

// Enabled reports whether speech synthesis is configured.
func (c TTSConfig) Enabled() bool {
	return c.APIKey != ""
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	TopicOCR     string   `yaml:"topicOcr"`
	TopicPartial string   `yaml:"topicPartial"`
	TopicFinal   string   `yaml:"topicFinal"`
	Principal    string   `yaml:"principal"`
}

type ObservabilityConfig struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// Default returns the built-in configuration: Azure vision, Google speech
// and an MJPEG camera, Kafka disabled. Their endpoints and credentials have
// no defaults, so Validate fails until they are set. The mock and synthetic
// providers must be selected explicitly.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Principal:     "svc-stream-fusion",
			GRPCPort:      "50051",
			HTTPAddr:      ":8080",
			QueueCapacity: 256,
		},
		STT: STTConfig{
			Provider:       ProviderGoogle,
			LanguageCode:   "en-US",
			SampleRateHz:   8000,
			InterimResults: true,
			AudioEncoding:  "LINEAR16",
			MaxRestarts:    5,
			RestartBackoff: time.Second,
		},
		Deepgram: DeepgramConfig{
			Model: "nova-2",
		},
		Vision: VisionConfig{
			Provider: ProviderAzure,
		},
		Video: VideoConfig{
			Provider: ProviderMJPEG,
			FPS:      10,
		},
		Sampling: SamplingConfig{
			Interval:     5 * time.Second,
			FrameTimeout: time.Second,
		},
		Output: OutputConfig{
			Dir: ".",
		},
		Kafka: KafkaConfig{
			TopicOCR:     "stream.ocr.updated",
			TopicPartial: "stream.transcript.partial",
			TopicFinal:   "stream.transcript.final",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load builds the configuration. CONFIG_FILE names an optional YAML file;
// ENV_FILE (default .env) names an optional dotenv file whose values do not
// override variables already set. Environment variables win over both.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, err
		}
	}

	envFile := envOrDefault("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	s := &cfg.Service
	s.Principal = envOrDefault("SERVICE_PRINCIPAL", s.Principal)
	s.GRPCPort = envOrDefault("GRPC_PORT", s.GRPCPort)
	s.HTTPAddr = envOrDefault("HTTP_ADDR", s.HTTPAddr)
	s.QueueCapacity = envOrDefaultInt("QUEUE_CAPACITY", s.QueueCapacity)

	st := &cfg.STT
	st.Provider = envOrDefault("STT_PROVIDER", st.Provider)
	st.LanguageCode = envOrDefault("STT_LANGUAGE_CODE", st.LanguageCode)
	st.SampleRateHz = envOrDefaultInt("STT_SAMPLE_RATE_HZ", st.SampleRateHz)
	st.InterimResults = envOrDefaultBool("STT_INTERIM_RESULTS", st.InterimResults)
	st.AudioEncoding = envOrDefault("STT_AUDIO_ENCODING", st.AudioEncoding)
	st.AudioSource = envOrDefault("STT_AUDIO_SOURCE", st.AudioSource)
	st.MaxRestarts = envOrDefaultInt("STT_MAX_RESTARTS", st.MaxRestarts)
	st.RestartBackoff = envOrDefaultDuration("STT_RESTART_BACKOFF", st.RestartBackoff)

	d := &cfg.Deepgram
	d.APIKey = envOrDefault("DEEPGRAM_API_KEY", d.APIKey)
	d.Endpoint = envOrDefault("DEEPGRAM_ENDPOINT", d.Endpoint)
	d.Model = envOrDefault("DEEPGRAM_MODEL", d.Model)

	v := &cfg.Vision
	v.Provider = envOrDefault("VISION_PROVIDER", v.Provider)
	v.Endpoint = envOrDefault("VISION_ENDPOINT", v.Endpoint)
	v.Key = envOrDefault("VISION_KEY", v.Key)

	vid := &cfg.Video
	vid.Provider = envOrDefault("VIDEO_PROVIDER", vid.Provider)
	vid.URL = envOrDefault("VIDEO_SOURCE_URL", vid.URL)
	vid.FPS = envOrDefaultFloat("VIDEO_FPS", vid.FPS)

	cfg.Sampling.Interval = envOrDefaultDuration("SAMPLE_INTERVAL", cfg.Sampling.Interval)
	cfg.Sampling.FrameTimeout = envOrDefaultDuration("FRAME_TIMEOUT", cfg.Sampling.FrameTimeout)
	cfg.Output.Dir = envOrDefault("OUTPUT_DIR", cfg.Output.Dir)

	c := &cfg.Chat
	c.OpenAIKey = envOrDefault("OPENAI_API_KEY", c.OpenAIKey)
	c.Model = envOrDefault("OPENAI_MODEL", c.Model)
	c.BaseURL = envOrDefault("OPENAI_BASE_URL", c.BaseURL)
	c.AzureEndpoint = envOrDefault("AZURE_OPENAI_ENDPOINT", c.AzureEndpoint)
	c.AzureKey = envOrDefault("AZURE_OPENAI_KEY", c.AzureKey)
	c.AzureDeployment = envOrDefault("AZURE_OPENAI_DEPLOYMENT", c.AzureDeployment)
	c.AzureAPIVersion = envOrDefault("AZURE_OPENAI_API_VERSION", c.AzureAPIVersion)

	t := &cfg.TTS
	t.APIKey = envOrDefault("ELEVENLABS_API_KEY", t.APIKey)
	t.VoiceID = envOrDefault("ELEVENLABS_VOICE_ID", t.VoiceID)
	t.ModelID = envOrDefault("ELEVENLABS_MODEL_ID", t.ModelID)

	k := &cfg.Kafka
	k.Enabled = envOrDefaultBool("KAFKA_ENABLED", k.Enabled)
	k.Brokers = envOrDefaultList("KAFKA_BROKERS", k.Brokers)
	k.TopicOCR = envOrDefault("KAFKA_TOPIC_OCR", k.TopicOCR)
	k.TopicPartial = envOrDefault("KAFKA_TOPIC_PARTIAL", k.TopicPartial)
	k.TopicFinal = envOrDefault("KAFKA_TOPIC_FINAL", k.TopicFinal)
	k.Principal = envOrDefault("KAFKA_PRINCIPAL", k.Principal)
	if k.Principal == "" {
		k.Principal = s.Principal
	}

	o := &cfg.Observability
	o.LogLevel = envOrDefault("LOG_LEVEL", o.LogLevel)
	o.LogFormat = envOrDefault("LOG_FORMAT", o.LogFormat)
}

// Validate reports every missing or invalid value at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	fail := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	switch c.Video.Provider {
	case ProviderSynthetic:
		if c.Video.FPS <= 0 {
			fail("VIDEO_FPS must be positive")
		}
	case ProviderMJPEG:
		if c.Video.URL == "" {
			fail("VIDEO_SOURCE_URL is required for the mjpeg video provider")
		}
	default:
		fail("unknown VIDEO_PROVIDER %q", c.Video.Provider)
	}

	switch c.Vision.Provider {
	case ProviderMock:
	case ProviderAzure:
		if c.Vision.Endpoint == "" {
			fail("VISION_ENDPOINT is required for the azure vision provider")
		}
		if c.Vision.Key == "" {
			fail("VISION_KEY is required for the azure vision provider")
		}
	case ProviderGoogle:
		if c.Vision.Key == "" {
			fail("VISION_KEY is required for the google vision provider")
		}
	default:
		fail("unknown VISION_PROVIDER %q", c.Vision.Provider)
	}

	switch c.STT.Provider {
	case ProviderMock:
	case ProviderGoogle:
		if c.STT.AudioSource == "" {
			fail("STT_AUDIO_SOURCE is required for the google STT provider")
		}
	case ProviderDeepgram:
		if c.Deepgram.APIKey == "" {
			fail("DEEPGRAM_API_KEY is required for the deepgram STT provider")
		}
		if c.STT.AudioSource == "" {
			fail("STT_AUDIO_SOURCE is required for the deepgram STT provider")
		}
	default:
		fail("unknown STT_PROVIDER %q", c.STT.Provider)
	}

	if c.Chat.AzureEndpoint != "" && (c.Chat.AzureKey == "" || c.Chat.AzureDeployment == "") {
		fail("AZURE_OPENAI_KEY and AZURE_OPENAI_DEPLOYMENT are required with AZURE_OPENAI_ENDPOINT")
	}
	if c.TTS.APIKey != "" && c.TTS.VoiceID == "" {
		fail("ELEVENLABS_VOICE_ID is required with ELEVENLABS_API_KEY")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		fail("KAFKA_BROKERS is required when Kafka is enabled")
	}

	if c.Sampling.Interval <= 0 {
		fail("SAMPLE_INTERVAL must be positive")
	}
	if c.Sampling.FrameTimeout <= 0 {
		fail("FRAME_TIMEOUT must be positive")
	}
	if c.Service.QueueCapacity <= 0 {
		fail("QUEUE_CAPACITY must be positive")
	}
	if c.Output.Dir == "" {
		fail("OUTPUT_DIR is required")
	}

	return result.ErrorOrNil()
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
