package config

import (
	"encoding/base64"
	"errors"
	"os"
	"strings"
)

type OAuthClient struct {
	ClientID     string
	ClientSecret string
}

type Config struct {
	DBDSN    string
	HTTPAddr string
	LogLevel string
	RedisDSN string

	// base url this service is reachable at; oauth redirect uris are built from it
	PublicBaseURL string
	// origin of the dashboard frontend; the callback page posts messages only to it
	AppOrigin   string
	CORSOrigins []string

	Slack  OAuthClient
	Jira   OAuthClient
	Google OAuthClient

	// raw secrets kept in-memory only; never log these
	JWTSecret         string
	OpenAIKey         string
	EncryptionKeysRaw string
	EncryptionKey     []byte // decoded from EncryptionKeysRaw

	S3Endpoint  string
	S3Bucket    string
	S3PublicURL string
	S3Region    string

	SyncIntervalMinutes int
}

func Load() (Config, error) {
	cfg := Config{
		DBDSN:         os.Getenv("DB_DSN"),
		HTTPAddr:      getenvDefault("HTTP_ADDR", ":8080"),
		LogLevel:      getenvDefault("LOG_LEVEL", "info"),
		RedisDSN:      getenvDefault("REDIS_DSN", "redis://localhost:6379/0"),
		PublicBaseURL: strings.TrimRight(getenvDefault("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		AppOrigin:     getenvDefault("APP_ORIGIN", "http://localhost:3000"),
		Slack: OAuthClient{
			ClientID:     os.Getenv("SLACK_CLIENT_ID"),
			ClientSecret: os.Getenv("SLACK_CLIENT_SECRET"),
		},
		Jira: OAuthClient{
			ClientID:     os.Getenv("JIRA_CLIENT_ID"),
			ClientSecret: os.Getenv("JIRA_CLIENT_SECRET"),
		},
		Google: OAuthClient{
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		},
		JWTSecret:   os.Getenv("JWT_SECRET"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		S3Endpoint:  getenvDefault("S3_ENDPOINT", ""),
		S3Bucket:    getenvDefault("S3_BUCKET", ""),
		S3PublicURL: getenvDefault("S3_PUBLIC_URL", ""),
		S3Region:    getenvDefault("S3_REGION", "auto"),
	}

	cfg.EncryptionKeysRaw = os.Getenv("ENCRYPTION_KEY")

	if cfg.DBDSN == "" {
		return Config{}, errors.New("missing DB_DSN")
	}
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("missing JWT_SECRET")
	}

	// decode encryption key (base64, must be 32 bytes)
	if cfg.EncryptionKeysRaw != "" {
		key, err := base64.StdEncoding.DecodeString(cfg.EncryptionKeysRaw)
		if err != nil {
			return Config{}, errors.New("ENCRYPTION_KEY must be valid base64")
		}
		if len(key) != 32 {
			return Config{}, errors.New("ENCRYPTION_KEY must be 32 bytes (256 bits)")
		}
		cfg.EncryptionKey = key
	}

	// parse CORS origins
	corsOrigins := getenvDefault("CORS_ORIGINS", "")
	if corsOrigins != "" {
		cfg.CORSOrigins = strings.Split(corsOrigins, ",")
		for i := range cfg.CORSOrigins {
			cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
		}
	} else {
		cfg.CORSOrigins = []string{cfg.AppOrigin}
	}

	cfg.SyncIntervalMinutes = getenvInt("SYNC_INTERVAL_MINUTES", 15)

	return cfg, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	n := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return def
	}
	return n
}
