package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Presence  PresenceConfig
	Comments  CommentsConfig
	RateLimit RateLimitConfig `mapstructure:"rateLimit"`
	Store     StoreConfig
	Retry     RetryConfig
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
	SendBuffer  int           `mapstructure:"sendBuffer"`
	SendTimeout time.Duration `mapstructure:"sendTimeout"`
}

type PresenceConfig struct {
	Debounce      time.Duration `mapstructure:"debounce"`
	SweepInterval time.Duration `mapstructure:"sweepInterval"`
}

type CommentsConfig struct {
	MaxLength int `mapstructure:"maxLength"`
}

type RateLimitConfig struct {
	TypingPerMinute   int `mapstructure:"typingPerMinute"`
	CommentsPerMinute int `mapstructure:"commentsPerMinute"`
}

type StoreConfig struct {
	DSN       string `mapstructure:"dsn"`
	ListLimit int    `mapstructure:"listLimit"`
}

type RetryConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Backoff  time.Duration `mapstructure:"backoff"`
}
