package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Fields that can be
// applied to a running application are reported individually; everything
// else is summarised in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ChatModeChanged bool
	NewChatMode     ChatMode

	SystemPromptChanged bool

	VocabularyChanged bool
	NewVocabulary     []string

	ArchiveChanged bool
	NewArchive     bool

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ChatModeChanged && !d.SystemPromptChanged &&
		!d.VocabularyChanged && !d.ArchiveChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Chat.Mode != new.Chat.Mode {
		d.ChatModeChanged = true
		d.NewChatMode = new.Chat.Mode
	}
	if old.Chat.SystemPrompt != new.Chat.SystemPrompt {
		d.SystemPromptChanged = true
	}
	if !slices.Equal(old.Transcription.Vocabulary, new.Transcription.Vocabulary) {
		d.VocabularyChanged = true
		d.NewVocabulary = slices.Clone(new.Transcription.Vocabulary)
	}
	if old.Recordings.Archive != new.Recordings.Archive {
		d.ArchiveChanged = true
		d.NewArchive = new.Recordings.Archive
	}

	// Compare the remaining fields with the hot-reloadable ones masked out.
	o, n := *old, *new
	o.Server.LogLevel, n.Server.LogLevel = "", ""
	o.Chat.Mode, n.Chat.Mode = "", ""
	o.Chat.SystemPrompt, n.Chat.SystemPrompt = "", ""
	o.Transcription.Vocabulary, n.Transcription.Vocabulary = nil, nil
	o.Recordings.Archive, n.Recordings.Archive = false, false

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", o.Server, n.Server},
		{"audio", o.Audio, n.Audio},
		{"vad", o.VAD, n.VAD},
		{"transcription", o.Transcription, n.Transcription},
		{"providers", o.Providers, n.Providers},
		{"chat", o.Chat, n.Chat},
		{"recordings", o.Recordings, n.Recordings},
		{"playback", o.Playback, n.Playback},
		{"redis", o.Redis, n.Redis},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
