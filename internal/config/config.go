package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName string
	AppEnv  string
	AppPort string

	DatabaseURL     string
	RedisURL        string
	NATSURL         string
	RealtimeChannel string

	JWTSecret        string
	JWTRefreshSecret string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration

	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	UploadMaxSizeMB        int

	PublicBaseURL         string
	GoogleClientID        string
	GoogleClientSecret    string
	GitHubClientID        string
	GitHubClientSecret    string
	MicrosoftClientID     string
	MicrosoftClientSecret string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string

	MessageWindow      int
	NotificationWindow int
	StreamKeepAlive    time.Duration

	OutboxPollInterval time.Duration
	OutboxBaseBackoff  time.Duration
	OutboxMaxAttempts  int
	OutboxBatchSize    int

	SeedCommunities bool
	RateLimitMax    int
	RateLimitWindow time.Duration
	CORSOrigins     string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// SMTPEnabled reports whether outgoing email has been configured.
func (c Config) SMTPEnabled() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("UNIGIGS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "UniGigs API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("realtime.channel", "unigigs")
	v.SetDefault("realtime.message_window", 200)
	v.SetDefault("realtime.notification_window", 100)
	v.SetDefault("realtime.keepalive", "30s")
	v.SetDefault("jwt.access_ttl", "1h")
	v.SetDefault("jwt.refresh_ttl", "168h")
	v.SetDefault("cloudinary.folder", "unigigs")
	v.SetDefault("upload.max_size_mb", 5)
	v.SetDefault("public.base_url", "http://localhost:8080")
	v.SetDefault("vapid.subscriber", "admin@unigigs.app")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("outbox.poll_interval", "1s")
	v.SetDefault("outbox.base_backoff", "2s")
	v.SetDefault("outbox.max_attempts", 8)
	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("communities.seed_defaults", true)
	v.SetDefault("rate_limit.max", 20)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("cors.allowed_origins", "*")

	durations := map[string]time.Duration{}
	for _, key := range []string{"realtime.keepalive", "jwt.access_ttl", "jwt.refresh_ttl", "outbox.poll_interval", "outbox.base_backoff", "rate_limit.window"} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid duration for %s: %w", key, err)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		RealtimeChannel:        v.GetString("realtime.channel"),
		JWTSecret:              v.GetString("jwt.secret"),
		JWTRefreshSecret:       v.GetString("jwt.refresh_secret"),
		AccessTokenTTL:         durations["jwt.access_ttl"],
		RefreshTokenTTL:        durations["jwt.refresh_ttl"],
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		UploadMaxSizeMB:        v.GetInt("upload.max_size_mb"),
		PublicBaseURL:          strings.TrimRight(v.GetString("public.base_url"), "/"),
		GoogleClientID:         v.GetString("oauth.google.client_id"),
		GoogleClientSecret:     v.GetString("oauth.google.client_secret"),
		GitHubClientID:         v.GetString("oauth.github.client_id"),
		GitHubClientSecret:     v.GetString("oauth.github.client_secret"),
		MicrosoftClientID:      v.GetString("oauth.microsoft.client_id"),
		MicrosoftClientSecret:  v.GetString("oauth.microsoft.client_secret"),
		VAPIDPublicKey:         v.GetString("vapid.public_key"),
		VAPIDPrivateKey:        v.GetString("vapid.private_key"),
		VAPIDSubscriber:        v.GetString("vapid.subscriber"),
		SMTPHost:               v.GetString("smtp.host"),
		SMTPPort:               v.GetInt("smtp.port"),
		SMTPUser:               v.GetString("smtp.user"),
		SMTPPassword:           v.GetString("smtp.password"),
		SMTPFrom:               v.GetString("smtp.from"),
		MessageWindow:          v.GetInt("realtime.message_window"),
		NotificationWindow:     v.GetInt("realtime.notification_window"),
		StreamKeepAlive:        durations["realtime.keepalive"],
		OutboxPollInterval:     durations["outbox.poll_interval"],
		OutboxBaseBackoff:      durations["outbox.base_backoff"],
		OutboxMaxAttempts:      v.GetInt("outbox.max_attempts"),
		OutboxBatchSize:        v.GetInt("outbox.batch_size"),
		SeedCommunities:        v.GetBool("communities.seed_defaults"),
		RateLimitMax:           v.GetInt("rate_limit.max"),
		RateLimitWindow:        durations["rate_limit.window"],
		CORSOrigins:            v.GetString("cors.allowed_origins"),
	}

	if cfg.JWTSecret == "" || cfg.JWTRefreshSecret == "" {
		return Config{}, fmt.Errorf("jwt secrets must be provided")
	}

	if cfg.MessageWindow <= 0 {
		cfg.MessageWindow = 200
	}

	if cfg.NotificationWindow <= 0 {
		cfg.NotificationWindow = 100
	}

	if cfg.OutboxMaxAttempts <= 0 {
		cfg.OutboxMaxAttempts = 8
	}

	if cfg.UploadMaxSizeMB <= 0 {
		cfg.UploadMaxSizeMB = 5
	}

	return cfg, nil
}
