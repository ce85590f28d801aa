package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// GetEnv returns the value of the environment variable k, or d when unset or empty.
func GetEnv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

// LoadEnvFiles loads KEY=VALUE pairs from the given dotenv files into the
// process environment. Variables already set in the environment win. Missing
// files are skipped.
func LoadEnvFiles(paths ...string) ([]string, error) {
	var loaded []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return loaded, err
		}
		if err := godotenv.Load(p); err != nil {
			return loaded, fmt.Errorf("load %s: %w", p, err)
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}
