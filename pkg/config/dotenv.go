package config

import (
	"os"

	"github.com/joho/godotenv"
)

// DotEnvFiles are loaded in order; a variable set by an earlier file or by the
// process environment is never overwritten.
var DotEnvFiles = []string{".env.local", ".env"}

// LoadDotEnv loads the .env files that exist and returns the ones it loaded
func LoadDotEnv() []string {
	var loaded []string
	for _, file := range DotEnvFiles {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err == nil {
			loaded = append(loaded, file)
		}
	}
	return loaded
}
