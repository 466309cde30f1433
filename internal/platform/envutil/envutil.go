package envutil

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnv reads name from the environment, falling back to def when unset or
// blank. Matches the teacher's utils.GetEnv(key, default, log) shape, minus
// the log parameter since this repo's envutil package has none of the
// teacher's request-scoped logging dependencies.
func GetEnv(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

// Duration reads name as a Go duration string (e.g. "30s"), falling back to
// def on absence or parse failure.
func Duration(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func Int(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
