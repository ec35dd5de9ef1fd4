package config

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/danmuck/escposd/internal/logging"
	"github.com/pelletier/go-toml/v2"
)

// ReceiverConfig is the on-disk shape of an escposd config file. The limit
// pointers are nil when their key is absent.
type ReceiverConfig struct {
	ID              string   `toml:"id"`
	Addr            string   `toml:"addr"`
	ImageDir        string   `toml:"image_dir"`
	AdminListenAddr string   `toml:"admin_listen_addr"`
	CorsOrigins     []string `toml:"cors_origins"`
	MaxRasterBytes  *int64   `toml:"max_raster_bytes"`
	ReadBufferSize  *int     `toml:"read_buffer_size"`
	WriteTimeout    string   `toml:"write_timeout"`
	IdleTimeout     string   `toml:"idle_timeout"`
	LogLevel        string   `toml:"log_level"`
}

func LoadReceiverConfig(path string) (ReceiverConfig, error) {
	var cfg ReceiverConfig
	if err := loadToml(path, &cfg); err != nil {
		return ReceiverConfig{}, err
	}
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = "escposd.local"
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = ":6001"
	}
	if strings.TrimSpace(cfg.ImageDir) == "" {
		cfg.ImageDir = "images"
	}
	if err := ValidateReceiverConfig(cfg); err != nil {
		return ReceiverConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateReceiverConfig(cfg ReceiverConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("escposd config missing id")
	}
	if err := validateAddr("addr", cfg.Addr); err != nil {
		return err
	}
	if admin := strings.TrimSpace(cfg.AdminListenAddr); admin != "" {
		if err := validateAddr("admin_listen_addr", admin); err != nil {
			return err
		}
		if admin == strings.TrimSpace(cfg.Addr) {
			return fmt.Errorf("admin_listen_addr must differ from addr")
		}
	}
	if strings.TrimSpace(cfg.ImageDir) == "" {
		return fmt.Errorf("escposd config missing image_dir")
	}
	if n := cfg.MaxRasterBytes; n != nil && *n <= 0 {
		return fmt.Errorf("max_raster_bytes must be positive, got %d", *n)
	}
	if n := cfg.ReadBufferSize; n != nil && *n <= 0 {
		return fmt.Errorf("read_buffer_size must be positive, got %d", *n)
	}
	if raw := strings.TrimSpace(cfg.LogLevel); raw != "" {
		if _, ok := logging.ParseLevel(raw); !ok {
			return fmt.Errorf("unknown log_level %q", cfg.LogLevel)
		}
	}
	for key, raw := range map[string]string{
		"write_timeout": cfg.WriteTimeout,
		"idle_timeout":  cfg.IdleTimeout,
	} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%s invalid: %w", key, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", key)
		}
	}
	return nil
}

func validateAddr(key, addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("escposd config missing %s", key)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s invalid: %w", key, err)
	}
	return nil
}
