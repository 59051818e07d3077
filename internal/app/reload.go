package app

import (
	"log/slog"

	"github.com/MrWong99/earshot/internal/config"
)

// ApplyConfig applies the hot-reloadable parts of a changed config file.
// Sections listed in diff.RestartRequired are only logged. A chat mode the
// app cannot honour is logged and ignored.
func (a *App) ApplyConfig(cfg *config.Config, diff config.ConfigDiff) {
	if diff.Empty() {
		return
	}
	if diff.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(diff.NewLogLevel.Level())
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.ChatModeChanged {
		if err := a.SetChatMode(diff.NewChatMode); err != nil {
			slog.Warn("chat mode not applied", "mode", diff.NewChatMode, "err", err)
		}
	}
	if diff.SystemPromptChanged {
		if a.prompter != nil {
			a.prompter.SetSystemPrompt(cfg.Chat.SystemPrompt)
			slog.Info("system prompt updated")
		} else {
			slog.Warn("system prompt change needs the direct chat backend; ignored")
		}
	}
	if diff.VocabularyChanged {
		a.corrector.SetVocabulary(diff.NewVocabulary)
		slog.Info("vocabulary updated", "terms", len(diff.NewVocabulary))
	}
	if diff.ArchiveChanged {
		a.mu.Lock()
		a.archive = diff.NewArchive
		a.mu.Unlock()
		if diff.NewArchive && a.archiver == nil {
			slog.Warn("archiving enabled but no recordings server is configured")
		} else {
			slog.Info("archiving changed", "enabled", diff.NewArchive)
		}
	}
	if len(diff.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", diff.RestartRequired)
	}
}

// ConfigRejected tells subscribers that an edit to the config file was not
// applied.
func (a *App) ConfigRejected(err error) {
	a.hub.Publish(ErrorNotice{Message: MsgConfigRejected, Detail: err.Error(), At: a.now()})
}
