package main

import (
	"time"

	"github.com/BurntSushi/toml"

	"github.com/gschup/ggrs-sub000/internal/protocol"
)

// Config is the on-disk shape of a boxgame match: how many players, who they
// are, and the session tunables a real deployment would want to adjust
// without a rebuild. Millisecond fields exist because toml decodes plain
// integers without needing a custom time.Duration unmarshaler; loadConfig
// converts them on the way out.
type Config struct {
	Mode string `toml:"mode"`

	ListenPort int      `toml:"listen_port"`
	Players    []string `toml:"players"`
	Spectators []string `toml:"spectators"`
	HostAddr   string   `toml:"host_addr"`

	FPS                 uint32 `toml:"fps"`
	InputDelay          int    `toml:"input_delay"`
	SparseSaving        bool   `toml:"sparse_saving"`
	DisconnectTimeoutMS int    `toml:"disconnect_timeout_ms"`
	DisconnectNotifyMS  int    `toml:"disconnect_notify_ms"`

	DesyncDetection bool   `toml:"desync_detection"`
	ChecksumEvery   uint32 `toml:"checksum_interval"`

	MetricsAddr string `toml:"metrics_addr"`

	LogFile    string `toml:"log_file"`
	LogMaxSize int    `toml:"log_max_size_mb"`
	LogBackups int    `toml:"log_backups"`

	DisconnectTimeout time.Duration `toml:"-"`
	DisconnectNotify  time.Duration `toml:"-"`
}

// defaultConfig mirrors the constants the original hardcodes (60 FPS, an
// input delay of 2, an 8 frame prediction window fixed elsewhere in the
// library) as a starting point a user's TOML file then overrides.
func defaultConfig() Config {
	return Config{
		Mode:                "p2p",
		ListenPort:          7000,
		FPS:                 simulationFPS,
		InputDelay:          2,
		DisconnectTimeoutMS: int(protocol.DefaultDisconnectTimeout / time.Millisecond),
		DisconnectNotifyMS:  int(protocol.DefaultDisconnectNotifyStart / time.Millisecond),
		ChecksumEvery:       100,
		MetricsAddr:         ":9000",
		LogFile:             "boxgame.log",
		LogMaxSize:          10,
		LogBackups:          3,
	}
}

// loadConfig reads a TOML file into defaultConfig's values, leaving any
// field the file doesn't mention at its default.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	cfg.DisconnectTimeout = time.Duration(cfg.DisconnectTimeoutMS) * time.Millisecond
	cfg.DisconnectNotify = time.Duration(cfg.DisconnectNotifyMS) * time.Millisecond
	return cfg, nil
}
