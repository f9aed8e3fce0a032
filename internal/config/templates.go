package config

import (
	"fmt"
	"os"
)

func Template() string {
	return craftTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(craftTemplate), 0o600)
}

const craftTemplate = `# craftctl configuration. Every key is optional; unset keys keep their defaults.
group_dir = "groups"

[store]
path = "infinite_craft.db"

[oracle]
endpoint = "https://neal.fun/api/infinite-craft/pair"
max_attempts = 10
rate_limit_cooldown = "60s"
request_timeout = "10s"
# 0 leaves attempts unpaced beyond the dispatch throttle.
requests_per_second = 0.0
backoff_initial = "0s"
backoff_max = "0s"
backoff_multiplier = 2.0
backoff_jitter = false

[dispatch]
workers = 20
skip_numeric = false
throttle_min = "100ms"
throttle_max = "120ms"

[strategy]
# bfs, random, weighted-random, max-yield, min-uses, max-freq,
# search, find, shortest, explore
algorithm = "bfs"
batch = 100
key = "depth"
sort = "text ASC"
bfs_start = 0
max_depth = 10
min_length = 0
invert = false
search = []
exclude = []
groups = []
# "lexical" or "openai:<embedding model>" (reads OPENAI_API_KEY)
model = "lexical"
seed = 0

[crawler]
heartbeat_interval = "30s"
idle_backoff = "1s"
admin_listen_addr = ""

[server]
addr = ":3001"
cors_origins = ["http://localhost:3000"]

[groups]
# weather = ["Rain", "Snow", "Storm"]
`
