package config

import "github.com/spf13/pflag"

// RegisterFlags adds the settings most often overridden on the command
// line. Flag names are the config keys with dashes; LoadWithFlags binds
// them.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("api-addr", "", "HTTP listen address")
	fs.String("log-level", "", "debug, info, warn or error")
	fs.String("log-format", "", "text or json")
	fs.String("database-backend", "", "postgres or badger")
	fs.String("postgres-url", "", "Postgres connection string")
	fs.String("badger-path", "", "Badger data directory")
	fs.String("lock-backend", "", "file, database or redis")
	fs.String("scheduler", "", "local or temporal")
	fs.String("sources-file", "", "YAML file with source definitions")
}
