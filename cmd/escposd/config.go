package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/escposd/internal/config"
	"github.com/danmuck/escposd/internal/logging"
	"github.com/danmuck/escposd/internal/printer"
	"github.com/rs/zerolog"
)

// escposd config.toml key mapping to runtime settings.
type fileConfig struct {
	ID              string   `toml:"id"`
	Addr            string   `toml:"addr"`
	ImageDir        string   `toml:"image_dir"`
	AdminListenAddr string   `toml:"admin_listen_addr"`
	CORSOrigins     []string `toml:"cors_origins"`
	MaxRasterBytes  int64    `toml:"max_raster_bytes"`
	ReadBufferSize  int      `toml:"read_buffer_size"`
	WriteTimeout    string   `toml:"write_timeout"`
	IdleTimeout     string   `toml:"idle_timeout"`
	LogLevel        string   `toml:"log_level"`
}

type runtimeConfig struct {
	Service     printer.ServiceConfig
	LogLevel    zerolog.Level
	LogLevelSet bool
}

// loadServiceConfig overlays the keys present in path onto the defaults.
// Values are checked with config.ValidateReceiverConfig, the same rules
// configgen -validate applies. Empty strings keep the default.
func loadServiceConfig(path string) (runtimeConfig, error) {
	out := runtimeConfig{Service: printer.DefaultServiceConfig()}
	cfg := &out.Service

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runtimeConfig{}, fmt.Errorf("load escposd config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return runtimeConfig{}, fmt.Errorf("load escposd config: unknown key %q", undecoded[0].String())
	}

	checked := config.ReceiverConfig{
		ID:              cfg.NodeID,
		Addr:            cfg.ListenAddr,
		ImageDir:        cfg.ImageDir,
		AdminListenAddr: cfg.AdminListenAddr,
	}
	if v := strings.TrimSpace(raw.ID); v != "" {
		checked.ID = v
	}
	if v := strings.TrimSpace(raw.Addr); v != "" {
		checked.Addr = v
	}
	if v := strings.TrimSpace(raw.ImageDir); v != "" {
		checked.ImageDir = v
	}
	if meta.IsDefined("admin_listen_addr") {
		checked.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("max_raster_bytes") {
		checked.MaxRasterBytes = &raw.MaxRasterBytes
	}
	if meta.IsDefined("read_buffer_size") {
		checked.ReadBufferSize = &raw.ReadBufferSize
	}
	checked.WriteTimeout = raw.WriteTimeout
	checked.IdleTimeout = raw.IdleTimeout
	checked.LogLevel = raw.LogLevel
	if err := config.ValidateReceiverConfig(checked); err != nil {
		return runtimeConfig{}, fmt.Errorf("load escposd config: %w", err)
	}

	cfg.NodeID = checked.ID
	cfg.ListenAddr = checked.Addr
	cfg.ImageDir = checked.ImageDir
	cfg.AdminListenAddr = checked.AdminListenAddr
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if n := checked.MaxRasterBytes; n != nil {
		cfg.MaxRasterBytes = *n
	}
	if n := checked.ReadBufferSize; n != nil {
		cfg.ReadBufferSize = *n
	}
	if d, ok, err := parseDuration(raw.WriteTimeout); err != nil {
		return runtimeConfig{}, fmt.Errorf("parse write_timeout: %w", err)
	} else if ok {
		cfg.WriteTimeout = d
	}
	if d, ok, err := parseDuration(raw.IdleTimeout); err != nil {
		return runtimeConfig{}, fmt.Errorf("parse idle_timeout: %w", err)
	} else if ok {
		cfg.IdleTimeout = d
	}
	if lvl, ok := logging.ParseLevel(raw.LogLevel); ok {
		out.LogLevel = lvl
		out.LogLevelSet = true
	}
	return out, nil
}

func parseDuration(raw string) (time.Duration, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, err
	}
	return d, true, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
