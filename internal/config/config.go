package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/fast-security-fast/Fast-security-server/internal/origin"
)

const (
	envVarPort            = "PORT"
	envVarListenAddr      = "LISTEN_ADDR"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarLogFormat       = "LOG_FORMAT"
	envVarLogLevel        = "LOG_LEVEL"
	envVarShutdownTimeout = "SHUTDOWN_TIMEOUT"
	envVarMode            = "MODE"

	// Shared secrets. Both are optional; their absence means different things
	// (SOS: misconfigured, WS: unauthenticated joins).
	envVarSOSSecret = "SOS_SECRET"
	envVarWSSecret  = "WS_SECRET"

	// Signaling WebSocket behaviour.
	envVarLivenessInterval              = "LIVENESS_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSendQueueLength               = "SEND_QUEUE_LENGTH"

	// coturn TURN REST (ephemeral) credentials handed out by GET /ice.
	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"

	// Room lifecycle events.
	envVarMQTTBrokerURL   = "MQTT_BROKER_URL"
	envVarMQTTClientID    = "MQTT_CLIENT_ID"
	envVarMQTTTopicPrefix = "MQTT_TOPIC_PREFIX"

	DefaultPort                               = 3000
	DefaultShutdown                           = 15 * time.Second
	DefaultMode                          Mode = ModeDev
	DefaultLivenessInterval                   = 30 * time.Second
	DefaultMaxSignalingMessageBytes           = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond      = 50
	DefaultSendQueueLength                    = 256

	DefaultTURNRESTTTLSeconds     int64  = 3600
	DefaultTURNRESTUsernamePrefix string = "fastsec"

	DefaultMQTTClientID    = "fast-security-server"
	DefaultMQTTTopicPrefix = "fast-security/rooms"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
}

func (c MQTTConfig) Enabled() bool {
	return strings.TrimSpace(c.BrokerURL) != ""
}

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	// SOSSecret guards the HTTP SOS endpoint. Empty is a misconfiguration
	// reported to callers as a server error.
	SOSSecret string
	// WSSecret, when set, must be presented as the join token. Empty admits
	// every join.
	WSSecret string

	LivenessInterval              time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	SendQueueLength               int

	ICEServers []webrtc.ICEServer
	TURNREST   TurnRESTConfig
	MQTT       MQTTConfig

	iceConfigErr error
}

// ICEConfigError is the ICE parsing error captured at load time. It does not
// prevent startup; /readyz reports it instead.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	modeDefault := envOrDefault(lookup, envVarMode, string(DefaultMode))

	envLogFormat := envOrDefault(lookup, envVarLogFormat, "")
	logFormatDefault := envLogFormat
	if logFormatDefault == "" {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}
	envLogLevel := envOrDefault(lookup, envVarLogLevel, "")
	logLevelDefault := envLogLevel
	if logLevelDefault == "" {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	port, err := envIntOrDefault(lookup, envVarPort, DefaultPort)
	if err != nil {
		return Config{}, err
	}
	listenAddr := envOrDefault(lookup, envVarListenAddr, "")
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")

	sosSecret := envOrDefault(lookup, envVarSOSSecret, "")
	wsSecret := envOrDefault(lookup, envVarWSSecret, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	livenessInterval, err := envDurationOrDefault(lookup, envVarLivenessInterval, DefaultLivenessInterval)
	if err != nil {
		return Config{}, err
	}

	maxSignalingMessageBytes := DefaultMaxSignalingMessageBytes
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingMessageBytes, raw, err)
		}
		maxSignalingMessageBytes = n
	}
	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	sendQueueLength, err := envIntOrDefault(lookup, envVarSendQueueLength, DefaultSendQueueLength)
	if err != nil {
		return Config{}, err
	}

	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	turnRESTTTLSeconds := DefaultTURNRESTTTLSeconds
	if raw, ok := lookup(envVarTURNRESTTTLSeconds); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarTURNRESTTTLSeconds, raw, err)
		}
		turnRESTTTLSeconds = n
	}
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)

	mqttBrokerURL := envOrDefault(lookup, envVarMQTTBrokerURL, "")
	mqttClientID := envOrDefault(lookup, envVarMQTTClientID, DefaultMQTTClientID)
	mqttTopicPrefix := envOrDefault(lookup, envVarMQTTTopicPrefix, DefaultMQTTTopicPrefix)

	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs := flag.NewFlagSet("fast-security-server", flag.ContinueOnError)
	fs.StringVar(&modeStr, "mode", modeDefault, "Deployment mode: dev or prod (env "+envVarMode+")")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json (env "+envVarLogFormat+")")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error (env "+envVarLogLevel+")")
	fs.IntVar(&port, "port", port, "TCP port to listen on when --listen-addr is unset (env "+envVarPort+")")
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address, overrides --port (env "+envVarListenAddr+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated browser origins allowed to connect; empty means same host (env "+envVarAllowedOrigins+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+envVarShutdownTimeout+")")
	fs.StringVar(&sosSecret, "sos-secret", sosSecret, "Shared secret required in the X-SOS-Secret header (env "+envVarSOSSecret+")")
	fs.StringVar(&wsSecret, "ws-secret", wsSecret, "Shared secret required as the join token; empty disables join auth (env "+envVarWSSecret+")")
	fs.DurationVar(&livenessInterval, "liveness-interval", livenessInterval, "Ping period for signaling connections; silent peers are dropped after one to two periods (env "+envVarLivenessInterval+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Max inbound signaling frame size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", maxSignalingMessagesPerSecond, "Max inbound signaling frames per second per connection (env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.IntVar(&sendQueueLength, "send-queue-length", sendQueueLength, "Outbound frames buffered per connection before drops (env "+envVarSendQueueLength+")")
	fs.StringVar(&mqttBrokerURL, "mqtt-broker-url", mqttBrokerURL, "MQTT broker for room events, e.g. tcp://localhost:1883; empty disables (env "+envVarMQTTBrokerURL+")")
	fs.StringVar(&mqttClientID, "mqtt-client-id", mqttClientID, "MQTT client id (env "+envVarMQTTClientID+")")
	fs.StringVar(&mqttTopicPrefix, "mqtt-topic-prefix", mqttTopicPrefix, "MQTT topic prefix; events go to <prefix>/<room> (env "+envVarMQTTTopicPrefix+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	// --mode may differ from MODE, so mode-derived log defaults are resolved
	// again unless the format or level was given explicitly.
	if envLogFormat == "" && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if envLogLevel == "" && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(listenAddr) == "" {
		if port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("%s/--port must be in 1..65535, got %d", envVarPort, port)
		}
		listenAddr = ":" + strconv.Itoa(port)
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", envVarAllowedOrigins, err)
	}

	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--shutdown-timeout must be > 0", envVarShutdownTimeout)
	}
	if livenessInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--liveness-interval must be > 0", envVarLivenessInterval)
	}
	if maxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-message-bytes must be > 0", envVarMaxSignalingMessageBytes)
	}
	if maxSignalingMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-messages-per-second must be > 0", envVarMaxSignalingMessagesPerSecond)
	}
	if sendQueueLength <= 0 {
		return Config{}, fmt.Errorf("%s/--send-queue-length must be > 0", envVarSendQueueLength)
	}

	if strings.TrimSpace(turnRESTSharedSecret) != "" {
		if turnRESTTTLSeconds <= 0 {
			return Config{}, fmt.Errorf("%s must be > 0 when %s is set", envVarTURNRESTTTLSeconds, envVarTURNRESTSharedSecret)
		}
		if strings.TrimSpace(turnRESTUsernamePrefix) == "" {
			return Config{}, fmt.Errorf("%s must be non-empty when %s is set", envVarTURNRESTUsernamePrefix, envVarTURNRESTSharedSecret)
		}
		if strings.Contains(turnRESTUsernamePrefix, ":") {
			return Config{}, fmt.Errorf("%s must not contain ':'", envVarTURNRESTUsernamePrefix)
		}
	}

	if strings.TrimSpace(mqttBrokerURL) != "" {
		if strings.TrimSpace(mqttTopicPrefix) == "" {
			return Config{}, fmt.Errorf("%s must be non-empty when %s is set", envVarMQTTTopicPrefix, envVarMQTTBrokerURL)
		}
		if strings.ContainsAny(mqttTopicPrefix, "#+") {
			return Config{}, fmt.Errorf("%s must not contain MQTT wildcards", envVarMQTTTopicPrefix)
		}
	}

	// A broken ICE list should not keep the relay from starting; signaling
	// works without it and readiness reports the problem.
	iceServers, iceErr := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential)

	return Config{
		ListenAddr:      listenAddr,
		AllowedOrigins:  allowedOrigins,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,
		Mode:            mode,

		SOSSecret: sosSecret,
		WSSecret:  wsSecret,

		LivenessInterval:              livenessInterval,
		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,
		SendQueueLength:               sendQueueLength,

		ICEServers: iceServers,
		TURNREST: TurnRESTConfig{
			SharedSecret:   turnRESTSharedSecret,
			TTLSeconds:     turnRESTTTLSeconds,
			UsernamePrefix: turnRESTUsernamePrefix,
		},
		MQTT: MQTTConfig{
			BrokerURL:   strings.TrimSpace(mqttBrokerURL),
			ClientID:    mqttClientID,
			TopicPrefix: strings.TrimSuffix(strings.TrimSpace(mqttTopicPrefix), "/"),
		},

		iceConfigErr: iceErr,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			out = append(out, entry)
			continue
		}

		normalizedOrigin, _, ok := origin.NormalizeHeader(entry)
		if !ok || normalizedOrigin == "null" {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalizedOrigin)
	}
	return out, nil
}
