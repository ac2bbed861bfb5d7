package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`

	Health struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"HEALTH"`

	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`

	Database struct {
		Type     string `mapstructure:"TYPE"`
		Host     string `mapstructure:"HOST"`
		Port     string `mapstructure:"PORT"`
		DBName   string `mapstructure:"DBNAME"`
		User     string `mapstructure:"USER"`
		Password string `mapstructure:"PASSWORD"`
		SSLMode  string `mapstructure:"SSLMODE"`
	} `mapstructure:"DATABASE"`

	Asynq struct {
		Concurrency int `mapstructure:"CONCURRENCY"`
	} `mapstructure:"ASYNQ"`

	Collector struct {
		DefaultMaxRetries int           `mapstructure:"DEFAULT_MAX_RETRIES"`
		JobTTL            time.Duration `mapstructure:"JOB_TTL"`
		VolumeThreshold   int64         `mapstructure:"VOLUME_THRESHOLD"`
		MinEngagementPct  float64       `mapstructure:"MIN_ENGAGEMENT_PCT"`
	} `mapstructure:"COLLECTOR"`

	Fraud struct {
		ViewLikeRatioMax    float64       `mapstructure:"VIEW_LIKE_RATIO_MAX"`
		ViewCommentRatioMax float64       `mapstructure:"VIEW_COMMENT_RATIO_MAX"`
		SpikePct            float64       `mapstructure:"SPIKE_PCT"`
		SpikeWindow         time.Duration `mapstructure:"SPIKE_WINDOW"`
		BanScore            int           `mapstructure:"BAN_SCORE"`
		WarningScore        int           `mapstructure:"WARNING_SCORE"`
		MonitorScore        int           `mapstructure:"MONITOR_SCORE"`
		VolumeThreshold     int64         `mapstructure:"VOLUME_THRESHOLD"`
	} `mapstructure:"FRAUD"`

	Payout struct {
		PlatformFeePct float64 `mapstructure:"PLATFORM_FEE_PCT"`
		MinPayout      int64   `mapstructure:"MIN_PAYOUT"`
		Timezone       string  `mapstructure:"TIMEZONE"`
	} `mapstructure:"PAYOUT"`

	Token struct {
		RefreshMargin   time.Duration `mapstructure:"REFRESH_MARGIN"`
		LockTTL         time.Duration `mapstructure:"LOCK_TTL"`
		LockWaitTimeout time.Duration `mapstructure:"LOCK_WAIT_TIMEOUT"`
		LockWaitPoll    time.Duration `mapstructure:"LOCK_WAIT_POLL"`
	} `mapstructure:"TOKEN"`

	TTL struct {
		Session     time.Duration `mapstructure:"SESSION"`
		Tracking    time.Duration `mapstructure:"TRACKING"`
		BotAnalysis time.Duration `mapstructure:"BOT_ANALYSIS"`
		RateLimit   time.Duration `mapstructure:"RATE_LIMIT"`
		Payout      time.Duration `mapstructure:"PAYOUT"`
	} `mapstructure:"TTL"`

	TikTok struct {
		ClientKey    string `mapstructure:"CLIENT_KEY"`
		ClientSecret string `mapstructure:"CLIENT_SECRET"`
	} `mapstructure:"TIKTOK"`

	RateLimit struct {
		TikTokHourly    int64 `mapstructure:"TIKTOK_HOURLY"`
		InstagramHourly int64 `mapstructure:"INSTAGRAM_HOURLY"`
	} `mapstructure:"RATE_LIMIT"`

	Cron struct {
		CollectionTick string `mapstructure:"COLLECTION_TICK"`
		HealthCheck    string `mapstructure:"HEALTH_CHECK"`
		TokenCleanup   string `mapstructure:"TOKEN_CLEANUP"`
		CacheSweep     string `mapstructure:"CACHE_SWEEP"`
		DailyPayout    string `mapstructure:"DAILY_PAYOUT"`
	} `mapstructure:"CRON"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "promopay-engine")

	v.SetDefault("HEALTH.ADDR", ":8081")

	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", "30s")

	v.SetDefault("ASYNQ.CONCURRENCY", 10)

	v.SetDefault("COLLECTOR.DEFAULT_MAX_RETRIES", 3)
	v.SetDefault("COLLECTOR.JOB_TTL", "24h")
	v.SetDefault("COLLECTOR.VOLUME_THRESHOLD", 1000)
	v.SetDefault("COLLECTOR.MIN_ENGAGEMENT_PCT", 1.0)

	v.SetDefault("FRAUD.VIEW_LIKE_RATIO_MAX", 10.0)
	v.SetDefault("FRAUD.VIEW_COMMENT_RATIO_MAX", 100.0)
	v.SetDefault("FRAUD.SPIKE_PCT", 500.0)
	v.SetDefault("FRAUD.SPIKE_WINDOW", "5m")
	v.SetDefault("FRAUD.BAN_SCORE", 90)
	v.SetDefault("FRAUD.WARNING_SCORE", 50)
	v.SetDefault("FRAUD.MONITOR_SCORE", 20)
	v.SetDefault("FRAUD.VOLUME_THRESHOLD", 1000)

	v.SetDefault("PAYOUT.PLATFORM_FEE_PCT", 5.0)
	v.SetDefault("PAYOUT.MIN_PAYOUT", 1000)
	v.SetDefault("PAYOUT.TIMEZONE", "UTC")

	v.SetDefault("TOKEN.REFRESH_MARGIN", "24h")
	v.SetDefault("TOKEN.LOCK_TTL", "10s")
	v.SetDefault("TOKEN.LOCK_WAIT_TIMEOUT", "5s")
	v.SetDefault("TOKEN.LOCK_WAIT_POLL", "100ms")

	v.SetDefault("TTL.SESSION", "24h")
	v.SetDefault("TTL.TRACKING", "1m")
	v.SetDefault("TTL.BOT_ANALYSIS", "5m")
	v.SetDefault("TTL.RATE_LIMIT", "1h")
	v.SetDefault("TTL.PAYOUT", "24h")

	v.SetDefault("RATE_LIMIT.TIKTOK_HOURLY", 600)
	v.SetDefault("RATE_LIMIT.INSTAGRAM_HOURLY", 200)

	v.SetDefault("CRON.COLLECTION_TICK", "* * * * *")
	v.SetDefault("CRON.HEALTH_CHECK", "*/5 * * * *")
	v.SetDefault("CRON.TOKEN_CLEANUP", "0 * * * *")
	v.SetDefault("CRON.CACHE_SWEEP", "30 * * * *")
	v.SetDefault("CRON.DAILY_PAYOUT", "0 1 * * *")
}

func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// config file is optional, defaults plus env are enough to boot
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations that would make scoring or payout math nonsensical.
func (c *Config) Validate() error {
	if !(c.Fraud.BanScore > c.Fraud.WarningScore && c.Fraud.WarningScore > c.Fraud.MonitorScore) {
		return fmt.Errorf("fraud confidence cut-points must satisfy ban > warning > monitor, got %d/%d/%d",
			c.Fraud.BanScore, c.Fraud.WarningScore, c.Fraud.MonitorScore)
	}
	if c.Payout.PlatformFeePct < 0 || c.Payout.PlatformFeePct > 100 {
		return fmt.Errorf("platform fee pct out of range: %v", c.Payout.PlatformFeePct)
	}
	if c.Payout.MinPayout < 0 {
		return fmt.Errorf("minimum payout must be non-negative, got %d", c.Payout.MinPayout)
	}
	if _, err := time.LoadLocation(c.Payout.Timezone); err != nil {
		return fmt.Errorf("invalid payout timezone %q: %w", c.Payout.Timezone, err)
	}
	return nil
}
