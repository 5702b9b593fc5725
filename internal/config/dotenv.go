package config

import (
	"os"

	"github.com/joho/godotenv"
)

// DotEnvFiles are read, in order, by LoadDotEnv.
var DotEnvFiles = []string{".env", ".env.local"}

// LoadDotEnv copies variables from the given files into the process
// environment. Variables that are already set win; missing files are
// skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = DotEnvFiles
	}
	for _, name := range files {
		values, err := godotenv.Read(name)
		if err != nil {
			continue
		}
		for k, v := range values {
			if _, exists := os.LookupEnv(k); !exists {
				if err := os.Setenv(k, v); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
