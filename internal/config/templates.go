package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "escposd", "receiver":
		return receiverTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const receiverTemplate = `id = "escposd.local"
addr = ":6001"
image_dir = "images"
admin_listen_addr = "127.0.0.1:7060"
cors_origins = ["http://localhost:3000"]
max_raster_bytes = 16777216
read_buffer_size = 4096
write_timeout = "5s"
idle_timeout = "0s"
log_level = "info"
`
