package playback

import (
	"strings"

	"healthvoice/pkg/model"
)

// SelectVoice picks the catalog voice for language: the preferred locale
// exactly, else any voice of the same language, else nil.
func SelectVoice(voices []model.Voice, language model.Language) *model.Voice {
	preferred := normalizeLocale(language.PreferredLocale())
	for i := range voices {
		if normalizeLocale(voices[i].Locale) == preferred {
			return &voices[i]
		}
	}

	prefix := string(language)
	for i := range voices {
		locale := normalizeLocale(voices[i].Locale)
		if locale == prefix || strings.HasPrefix(locale, prefix+"-") {
			return &voices[i]
		}
	}
	return nil
}

func normalizeLocale(locale string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(locale), "_", "-"))
}
