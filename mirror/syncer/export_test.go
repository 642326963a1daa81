package syncer

// Repository is exported for tests.
type Repository = repository

// CloneFunc is exported for tests.
type CloneFunc = cloneFunc

// SetClone injects the working-copy factory, so tests can
// run the whole pass without a git binary or a network.
func SetClone(cfg *Config, fn CloneFunc) {
	cfg.clone = fn
}
