package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	envFiles    = []string{".env", ".env.local"}
	configPaths = []string{".", "./config", "/etc/goblob", "$HOME/.goblob"}
)

// loadEnvFiles loads .env files found in dir. Missing files are ignored.
func loadEnvFiles(dir string) {
	for _, envFile := range envFiles {
		godotenv.Load(filepath.Join(os.ExpandEnv(dir), envFile))
	}
}

func initConfig(path string) error {
	loadEnvFiles(".")

	if path != "" {
		viper.SetConfigFile(path)
		loadEnvFiles(filepath.Dir(path))
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		for _, configPath := range configPaths {
			viper.AddConfigPath(configPath)
			loadEnvFiles(configPath)
		}
	}

	// GOBLOB_BACKUP_PATH overrides backup.path
	viper.SetEnvPrefix("GOBLOB")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}
