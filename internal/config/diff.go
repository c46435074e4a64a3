package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	// LogLevelChanged is true when server.log_level changed; the new level can
	// be applied to a running logger without restart.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// EngineChanged is true when any per-turn tuning knob changed (context
	// budget, timeouts, history limit).
	EngineChanged bool

	// MemoryChanged is true when a maintenance tuning knob changed (decay
	// factor, min strength, max records). Applied on the next cadence.
	MemoryChanged bool

	// ProvidersChanged is true when a provider entry changed. Provider swaps
	// require a restart; the watcher only reports them.
	ProvidersChanged bool
}

// Any reports whether the diff contains any change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.EngineChanged || d.MemoryChanged || d.ProvidersChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Engine != new.Engine {
		d.EngineChanged = true
	}
	if old.Memory != new.Memory {
		d.MemoryChanged = true
	}
	if entryChanged(old.Providers.Generation, new.Providers.Generation) ||
		entryChanged(old.Providers.FallbackGeneration, new.Providers.FallbackGeneration) ||
		entryChanged(old.Providers.Embeddings, new.Providers.Embeddings) {
		d.ProvidersChanged = true
	}

	return d
}

// entryChanged compares the scalar fields of two provider entries. Options
// maps are ignored: they are opaque to the watcher and never hot-reloaded.
func entryChanged(old, new ProviderEntry) bool {
	return old.Name != new.Name ||
		old.APIKey != new.APIKey ||
		old.BaseURL != new.BaseURL ||
		old.Model != new.Model
}
