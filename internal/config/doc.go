// Package config loads and validates converse-gateway configuration.
//
// Configuration is YAML with ${VAR} environment variable expansion applied to
// the raw file content before parsing, so secrets and paths can come from the
// environment:
//
//	server:
//	  http_addr: ":8080"
//	database:
//	  path: ${CONVERSE_DB_PATH}
//	chat:
//	  retraction_window: 1h
//	  join_timeout: 5s
//	logging:
//	  level: info
//	  format: json
//
// Duration fields are declared as raw strings in YAML and parsed into
// time.Duration values during Load.
package config
