package models

// MConfig Structure
type MConfig struct {
	Name        string                       `yaml:"name"`
	Host        string                       `yaml:"host"`
	Port        int                          `yaml:"port"`
	LogLevel    string                       `yaml:"log_level"`
	Redis       MRedisConfig                 `yaml:"redis"`
	Brokers     map[string][]string          `yaml:"brokers"`
	Market      MMarketConfig                `yaml:"market"`
	Poller      MPollerConfig                `yaml:"poller"`
	Streamer    MStreamerConfig              `yaml:"streamer"`
	Analysis    MAnalysisConfig              `yaml:"analysis"`
	Derivatives map[string]MDerivativeConfig `yaml:"derivatives"`
	Holidays    []string                     `yaml:"holidays"`
	Storage     MStorageConfig               `yaml:"storage"`
}

type MRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TokenDB  int    `yaml:"token_db"`
}

type MMarketConfig struct {
	MIC         string `yaml:"mic"`
	Timezone    string `yaml:"timezone"`
	Open        string `yaml:"open"`  // "09:15"
	Close       string `yaml:"close"` // "15:30"
	TickFeedURL string `yaml:"tick_feed_url"`
}

type MPollerConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	FeedBackoffSeconds  int `yaml:"feed_backoff_seconds"`
	MaxWaitMinutes      int `yaml:"max_wait_minutes"`
}

type MStreamerConfig struct {
	StreamGapSeconds int `yaml:"stream_gap_seconds"`
}

type MAnalysisConfig struct {
	RiskFreeRate float64 `yaml:"risk_free_rate"`
	ImpliedVol   float64 `yaml:"implied_vol"`
}

// MDerivativeConfig describes one derivative segment (keyed by exchange
// prefix, e.g. "NFO", "BFO") for symbol classification and expiry expansion.
type MDerivativeConfig struct {
	Underlying    string `yaml:"underlying"`     // e.g. "NIFTY 50"
	Exchange      string `yaml:"exchange"`       // e.g. "NSE"
	Derivative    string `yaml:"derivative"`     // e.g. "NIFTY"
	StrikeWidth   int    `yaml:"strike_width"`   // e.g. 50
	ExpiryWeekday int    `yaml:"expiry_weekday"` // 0=Sunday ... 6=Saturday
}

type MStorageConfig struct {
	DBType             string `yaml:"db_type"`
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
	RetentionDays      int    `yaml:"retention_days"`
}
