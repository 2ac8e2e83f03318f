package server

import "github.com/spf13/viper"

func GetServerDefault() BaseServerConfig {
	return BaseServerConfig{
		ShutdownTimeout: "10s",

		Log: LogServerConfig{
			Level:      "INFO",
			TimeFormat: "2006-01-02 15:04:05",
			File:       "",
			NoColor:    false,
			JSON:       false,
			NoTerminal: false,
			Rotation: LogServerRotationConfig{
				MaxSize:    128,
				MaxBackups: 5,
				MaxAge:     16,
				Compress:   false,
			},
		},
		Store: StoreServerConfig{
			Path: "./data/blobs",
			Hash: "sha256",
		},
		Backup: BackupServerConfig{
			Enabled:        false,
			Path:           "",
			BandwidthLimit: "0",
			Concurrency:    1,
			StatusCacheTTL: "5s",
		},
		Metadata: MetadataServerConfig{
			Type: "sqlite",
			SQLite: MetadataSQLiteConfig{
				Path: "./data/goblob.db",
			},
		},
		References: ReferencesServerConfig{
			Source:  "sqlite",
			LockDir: "./packs",
		},
		HTTP: HTTPServerConfig{
			Address:      "127.0.0.1:8390",
			ReadTimeout:  "30s",
			WriteTimeout: "0s",
		},
		Runs: RunsServerConfig{
			Retention: "1h",
		},
	}
}

func setDefaults() {
	defaults := GetServerDefault()

	viper.SetDefault("shutdown_timeout", defaults.ShutdownTimeout)

	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("log.time_format", defaults.Log.TimeFormat)
	viper.SetDefault("log.file", defaults.Log.File)
	viper.SetDefault("log.no_color", defaults.Log.NoColor)
	viper.SetDefault("log.json", defaults.Log.JSON)
	viper.SetDefault("log.no_terminal", defaults.Log.NoTerminal)
	viper.SetDefault("log.rotation.max_size", defaults.Log.Rotation.MaxSize)
	viper.SetDefault("log.rotation.max_backups", defaults.Log.Rotation.MaxBackups)
	viper.SetDefault("log.rotation.max_age", defaults.Log.Rotation.MaxAge)
	viper.SetDefault("log.rotation.compress", defaults.Log.Rotation.Compress)

	viper.SetDefault("store.path", defaults.Store.Path)
	viper.SetDefault("store.hash", defaults.Store.Hash)

	viper.SetDefault("backup.enabled", defaults.Backup.Enabled)
	viper.SetDefault("backup.path", defaults.Backup.Path)
	viper.SetDefault("backup.bandwidth_limit", defaults.Backup.BandwidthLimit)
	viper.SetDefault("backup.concurrency", defaults.Backup.Concurrency)
	viper.SetDefault("backup.status_cache_ttl", defaults.Backup.StatusCacheTTL)

	viper.SetDefault("metadata.type", defaults.Metadata.Type)
	viper.SetDefault("metadata.sqlite.path", defaults.Metadata.SQLite.Path)

	viper.SetDefault("references.source", defaults.References.Source)
	viper.SetDefault("references.lock_dir", defaults.References.LockDir)

	viper.SetDefault("http.address", defaults.HTTP.Address)
	viper.SetDefault("http.read_timeout", defaults.HTTP.ReadTimeout)
	viper.SetDefault("http.write_timeout", defaults.HTTP.WriteTimeout)

	viper.SetDefault("runs.retention", defaults.Runs.Retention)
}
