package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# pairbot configuration

[pair]
primary_symbol = "XAUUSD"
secondary_symbol = "XAGUSD"
primary_lots = 0.02
secondary_lots = 1.0

[broker]
# "bridge" talks to a local MT5 terminal bridge, "paper" simulates in memory.
mode = "bridge"
bridge_url = "http://127.0.0.1:8787"
query_timeout = "10s"
close_timeout = "15s"
# Circuit breaker: open after this many consecutive bridge failures,
# probe again after the cooldown.
breaker_threshold = 5
breaker_cooldown = "30s"

[monitor]
check_interval = "5s"
missed_poll_threshold = 2
user_response_timeout = "60s"

[recovery]
# How to classify "flag active but no positions found":
#   "connection-age"     - silent clear when the broker session is new this run
#   "session-confirmed"  - alert unless the session never confirmed the tickets
none_policy = "connection-age"
close_max_retries = 3
close_backoff = "2s"

[notifications]
enabled = true
level = "all"  # all, warnings_only

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""

[logging]
level = "info"
console = true
file = true
max_size = 100
max_backups = 7
max_age = 30
`

// writeTemplate writes a commented template config for first-run setups.
func writeTemplate(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	return os.WriteFile(path, []byte(configTemplate), 0644)
}
