package main

import (
	"log/slog"
	"slices"

	"github.com/fast-security-fast/Fast-security-server/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.WSSecret == "" {
		logger.Warn("startup security warning: WS_SECRET is unset; any client may join any room",
			"warning_code", "ws_secret_unset",
			"mode", cfg.Mode,
		)
	}

	if cfg.SOSSecret == "" {
		logger.Warn("startup security warning: SOS_SECRET is unset; /sos will answer 500 to every request",
			"warning_code", "sos_secret_unset",
			"mode", cfg.Mode,
		)
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("startup warning: ICE server configuration is invalid; /readyz will report not ready",
			"warning_code", "ice_config_invalid",
			"err", err,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && len(cfg.ICEServers) == 0 {
		logger.Warn("startup warning: no ICE servers configured while --mode=prod; peers behind NAT may fail to connect",
			"warning_code", "ice_servers_empty_in_prod",
			"mode", cfg.Mode,
		)
	}
}
