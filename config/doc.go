// Package config loads the configstore daemon configuration.
//
// Configuration is built in layers: built-in defaults, then every file added
// with AddLayer (JSON or YAML, chosen by extension), then CONFIGSTORE_*
// environment variables. Maps merge key by key and later layers win; lists
// such as collections are replaced whole. Duration fields accept strings like
// "5s", "30m" or "14d" as well as nanosecond integers.
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/production.yaml")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// A minimal YAML file:
//
//	node: eu-1
//	nats:
//	  urls: ["nats://nats:4222"]
//	store:
//	  database: game
//	  changefeed:
//	    max_delay: 1m
//	collections:
//	  - name: ui
//	    default_language: en
//	    languages: [en, pl]
//
// SafeConfig wraps a loaded configuration for concurrent readers. Update
// validates before swapping, so readers never observe a rejected config.
//
// Environment overrides: NODE, NATS_URLS (comma separated),
// NATS_STORAGE_MODE, NATS_USERNAME, NATS_PASSWORD, NATS_TOKEN, DATABASE,
// DEFAULT_LANGUAGE, CONSUMER, WORKERS, RELOAD_CONCURRENCY, CACHE_MAX_ENTRIES,
// CHANGEFEED_ENABLED, METRICS_ENABLED, METRICS_ADDRESS, ADMIN_ENABLED,
// ADMIN_ADDRESS, LOG_LEVEL and LOG_FORMAT, each prefixed with CONFIGSTORE_.
package config
