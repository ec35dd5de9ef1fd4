package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/escposd/internal/logging"
	"github.com/danmuck/escposd/internal/printer"
)

func main() {
	configPath := flag.String("config", "", "path to escposd TOML config (defaults when empty)")
	addr := flag.String("addr", "", "override listen address, e.g. :6001")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg := printer.DefaultServiceConfig()
	if path := strings.TrimSpace(*configPath); path != "" {
		loaded, err := loadServiceConfig(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "escposd: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded.Service
		if loaded.LogLevelSet {
			logging.SetLevel(loaded.LogLevel)
		}
	}
	if v := strings.TrimSpace(*addr); v != "" {
		cfg.ListenAddr = v
	}

	svc := printer.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "escposd: %v\n", err)
		os.Exit(1)
	}
}
