package chat

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config controls how the SDK connects to the workspace broker.
type Config struct {
	// URL is the websocket endpoint of the broker, e.g. "ws://host:8080/ws-stomp".
	URL string `envconfig:"BROKER_URL"`

	// User and UserID identify the local sender; stamped on outgoing events.
	User   string `envconfig:"USER_NAME"`
	UserID int64  `envconfig:"USER_ID"`

	HandshakeTimeout time.Duration `envconfig:"HANDSHAKE_TIMEOUT" default:"10s"`
	ReadTimeout      time.Duration `envconfig:"READ_TIMEOUT"`
	WriteTimeout     time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`

	// HeartbeatInterval is the ping period used to detect silent transport
	// failures. The broker is configured symmetrically.
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"4s"`

	// AutoReconnect enables the fixed-interval retry loop after a transport
	// failure. There is no backoff and no retry cap; the interval is fixed.
	AutoReconnect     bool          `envconfig:"AUTO_RECONNECT" default:"true"`
	ReconnectInterval time.Duration `envconfig:"RECONNECT_INTERVAL" default:"5s"`

	// HistoryPageSize is the page size requested on room history backfill.
	HistoryPageSize int `envconfig:"HISTORY_PAGE_SIZE" default:"30"`

	// LedgerCapacity bounds the dedup ledger; oldest identities are evicted
	// first when full.
	LedgerCapacity int `envconfig:"LEDGER_CAPACITY" default:"200"`

	// JoinSettleDelay is the pause between going live and announcing the join,
	// so the announcement does not race the subscription confirmation.
	JoinSettleDelay time.Duration `envconfig:"JOIN_SETTLE_DELAY" default:"500ms"`

	// TypingInterval is the minimum gap between typing-indicator publishes.
	TypingInterval time.Duration `envconfig:"TYPING_INTERVAL" default:"1s"`
}

// DefaultConfig returns sensible defaults. Set a timeout to 0 to disable it.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 4 * time.Second,
		AutoReconnect:     true,
		ReconnectInterval: 5 * time.Second,
		HistoryPageSize:   30,
		LedgerCapacity:    200,
		JoinSettleDelay:   500 * time.Millisecond,
		TypingInterval:    time.Second,
	}
}

// ConfigFromEnv loads a Config from CHAT_*-prefixed environment variables,
// falling back to the same defaults as DefaultConfig.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("chat", &cfg); err != nil {
		return Config{}, WrapError(ErrorInvalidConfig, "load config from environment", err)
	}
	return cfg, nil
}
