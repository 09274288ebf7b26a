package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only log_level and
// pipeline.mode are applied at runtime; every other change is listed in
// NeedsRestart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ModeChanged bool
	NewMode     string

	// NeedsRestart names the top-level sections whose changes only take
	// effect after a restart (e.g., "providers.stt").
	NeedsRestart []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ModeChanged && len(d.NeedsRestart) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Pipeline.Mode != new.Pipeline.Mode {
		d.ModeChanged = true
		d.NewMode = new.Pipeline.Mode
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldPipe, newPipe := old.Pipeline, new.Pipeline
	oldPipe.Mode, newPipe.Mode = "", ""

	for _, s := range []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"pipeline", oldPipe, newPipe},
		{"device", old.Device, new.Device},
		{"frontend", old.FrontEnd, new.FrontEnd},
		{"providers.stt", old.Providers.STT, new.Providers.STT},
		{"providers.llm", old.Providers.LLM, new.Providers.LLM},
		{"providers.tts", old.Providers.TTS, new.Providers.TTS},
	} {
		if !reflect.DeepEqual(s.old, s.new) {
			d.NeedsRestart = append(d.NeedsRestart, s.name)
		}
	}
	return d
}
