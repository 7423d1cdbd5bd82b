package config

// ConfigBackend is the platform-native key/value store configuration lives
// in: UserDefaults (via the `defaults` CLI) on macOS, an XDG config file on
// Linux. Bool and float keys are stored as strings and parsed on read.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	SetString(key, val string) error
	GetInt(key string) (val int, ok bool, err error)
	SetInt(key string, val int) error
	Delete(key string) error
}
