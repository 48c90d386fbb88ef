package config

// ConfigDiff describes what changed between two configs. Only fields that
// can be applied without restarting the pipeline are tracked individually;
// everything else sets RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CorrectionsChanged is set when the corrections file path changed.
	// The corrector reloads its rules from the new path.
	CorrectionsChanged bool
	NewCorrectionsPath string

	// RestartRequired is set when audio, VAD, model tier, pipeline, or
	// server settings changed. These are wired into live sessions and only
	// take effect on the next daemon start.
	RestartRequired bool
}

// Empty reports whether the diff carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.CorrectionsChanged && !d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Corrections.Path != new.Corrections.Path {
		d.CorrectionsChanged = true
		d.NewCorrectionsPath = new.Corrections.Path
	}

	if old.Audio != new.Audio ||
		old.VAD != new.VAD ||
		old.Pipeline != new.Pipeline ||
		!modelsEqual(old.Models, new.Models) ||
		!serverEqual(old.Server, new.Server) {
		d.RestartRequired = true
	}

	return d
}

func modelsEqual(a, b ModelsConfig) bool {
	if a.ORTLibrary != b.ORTLibrary ||
		a.DeviceID != b.DeviceID ||
		a.CPUThreads != b.CPUThreads ||
		a.SafePercent != b.SafePercent ||
		a.DecodeTimeout != b.DecodeTimeout ||
		len(a.Tiers) != len(b.Tiers) {
		return false
	}
	for i := range a.Tiers {
		if a.Tiers[i] != b.Tiers[i] {
			return false
		}
	}
	return true
}

// serverEqual ignores LogLevel, which is diffed separately.
func serverEqual(a, b ServerConfig) bool {
	if a.ListenAddr != b.ListenAddr {
		return false
	}
	if (a.TLS == nil) != (b.TLS == nil) {
		return false
	}
	if a.TLS != nil && *a.TLS != *b.TLS {
		return false
	}
	return true
}
