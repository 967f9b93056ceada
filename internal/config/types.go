package config

// Config is the top-level daemon configuration parsed from YAML.
type Config struct {
	Server Server `yaml:"server"`
	Store  Store  `yaml:"store"`
	Events Events `yaml:"events"`
	Chat   Chat   `yaml:"chat"`
}

// Server configures the HTTP/WebSocket listener.
type Server struct {
	Port int `yaml:"port"`
}

// Store configures the JSON document store.
type Store struct {
	Path string `yaml:"path"`
}

// Events configures the optional Postgres event mirror. An empty DSN
// disables it. The DSN may also come from RALPHD_EVENTS_DSN.
type Events struct {
	DSN string `yaml:"dsn"`
}

// Chat configures the Telegram bridge defaults; stored settings take
// precedence once the daemon has run.
type Chat struct {
	Token  string `yaml:"token"`
	ChatID string `yaml:"chat_id"`
}
