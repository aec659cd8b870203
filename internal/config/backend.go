package config

// ConfigBackend abstracts config storage. Keys are dotted paths such as
// "storage.driver"; backends decide how sections map onto their format.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	Set(key string, val any) error
	Delete(key string) error
}
