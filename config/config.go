package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Engine struct {
	Markets       []string
	QueueDepth    int
	EventRingSize int64 // Power of two
}

type Stream struct {
	TickerInterval  time.Duration
	ClientQueueSize int
}

type Server struct {
	ListenAddr  string
	CORSOrigins []string
	APITokens   map[string]uint64 // token -> user id
}

type Storage struct {
	DataDir string // Trade store is disabled when empty
}

type Kafka struct {
	Brokers []string // Publishing is disabled when empty
	Topic   string
}

type Log struct {
	File  string
	Level string
}

type Config struct {
	Engine  Engine
	Stream  Stream
	Server  Server
	Storage Storage
	Kafka   Kafka
	Log     Log
}

func Default() Config {
	return Config{
		Engine: Engine{
			Markets:       []string{"BTC-USDT", "ETH-USDT"},
			QueueDepth:    32768,
			EventRingSize: 8192,
		},
		Stream: Stream{
			TickerInterval:  time.Second,
			ClientQueueSize: 256,
		},
		Server: Server{
			ListenAddr:  ":8080",
			CORSOrigins: []string{"*"},
			APITokens:   map[string]uint64{},
		},
		Storage: Storage{
			DataDir: "data/trades",
		},
		Kafka: Kafka{
			Topic: "exchange.book-logs",
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load reads the .env file (if any) and environment variables.
// Priority: ENV > .env file > defaults
func Load(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return cfg, fmt.Errorf("config: load %s: %w", envPath, err)
		}
	} else {
		// A missing ./.env is fine, the environment alone may configure the process.
		_ = godotenv.Load()
	}

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("MARKETS"); v != "" {
		cfg.Engine.Markets = splitList(v)
	}
	if v := os.Getenv("ENGINE_QUEUE_DEPTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("config: ENGINE_QUEUE_DEPTH must be a positive integer, got %q", v)
		}
		cfg.Engine.QueueDepth = n
	}
	if v := os.Getenv("EVENT_RING_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 || n&(n-1) != 0 {
			return cfg, fmt.Errorf("config: EVENT_RING_SIZE must be a power of two, got %q", v)
		}
		cfg.Engine.EventRingSize = n
	}
	if v := os.Getenv("TICKER_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return cfg, fmt.Errorf("config: TICKER_INTERVAL_MS must be a positive integer, got %q", v)
		}
		cfg.Stream.TickerInterval = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("CLIENT_QUEUE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("config: CLIENT_QUEUE_SIZE must be a positive integer, got %q", v)
		}
		cfg.Stream.ClientQueueSize = n
	}
	if v, ok := os.LookupEnv("DATA_DIR"); ok {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("API_TOKENS"); v != "" {
		tokens, err := parseTokens(v)
		if err != nil {
			return cfg, err
		}
		cfg.Server.APITokens = tokens
	}

	if len(cfg.Engine.Markets) == 0 {
		return cfg, fmt.Errorf("config: at least one market is required")
	}
	return cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseTokens reads "token:userID,token:userID".
func parseTokens(v string) (map[string]uint64, error) {
	tokens := make(map[string]uint64)
	for _, pair := range splitList(v) {
		token, id, ok := strings.Cut(pair, ":")
		if !ok || token == "" {
			return nil, fmt.Errorf("config: API_TOKENS entry %q is not token:userID", pair)
		}
		userID, err := strconv.ParseUint(id, 10, 64)
		if err != nil || userID == 0 {
			return nil, fmt.Errorf("config: API_TOKENS entry %q has an invalid user id", pair)
		}
		tokens[token] = userID
	}
	return tokens, nil
}
