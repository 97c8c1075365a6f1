// Package locale resolves the export language from a requested code and the
// system locale.
package locale

import (
	"strings"

	"golang.org/x/text/language"
)

// Auto requests the language of the system locale
const Auto = "auto"

// Language is a supported export language code
type Language string

// Fallback is used whenever a language cannot be resolved or is unsupported
const Fallback Language = "en"

var supported = map[Language]bool{
	"cs": true, "da": true, "de": true, "en": true, "es": true, "fr": true,
	"it": true, "nl": true, "pl": true, "pt": true, "ru": true, "zh": true,
}

// Supported lists the supported language codes in alphabetical order
func Supported() []Language {
	return []Language{"cs", "da", "de", "en", "es", "fr", "it", "nl", "pl", "pt", "ru", "zh"}
}

// IsSupported reports whether code is a supported export language
func IsSupported(code string) bool {
	return supported[Language(code)]
}

// localeVariables are consulted in this order; the first non-empty one wins
var localeVariables = []string{"LC_ALL", "LC_CTYPE", "LANG", "LANGUAGE"}

// SystemLocale returns the locale named by the environment, or "" when none
// is set. lookup is usually os.LookupEnv.
func SystemLocale(lookup func(string) (string, bool)) string {
	for _, name := range localeVariables {
		value, ok := lookup(name)
		if !ok || value == "" {
			continue
		}
		// LANGUAGE may hold a priority list
		value = strings.Split(value, ":")[0]
		if value == "C" || value == "POSIX" || strings.HasPrefix(value, "C.") {
			return ""
		}
		return value
	}
	return ""
}

// BaseLanguage extracts the base language code of a POSIX locale or BCP 47
// tag ("de_DE.UTF-8" -> "de"). It returns "" when the locale cannot be parsed.
func BaseLanguage(locale string) string {
	if i := strings.IndexAny(locale, ".@"); i >= 0 {
		locale = locale[:i]
	}
	locale = strings.ReplaceAll(locale, "_", "-")
	if locale == "" {
		return ""
	}

	tag, err := language.Parse(locale)
	if err != nil {
		return ""
	}
	base, confidence := tag.Base()
	if confidence == language.No {
		return ""
	}
	return base.String()
}

// ResolveLanguage picks the export language. "auto" resolves through
// systemLocale, falling back to en when it is unresolvable. Unsupported codes
// fall back to en with ok=false so the caller can report it.
func ResolveLanguage(requested, systemLocale string) (lang Language, ok bool) {
	code := strings.ToLower(strings.TrimSpace(requested))
	if code == Auto {
		code = BaseLanguage(systemLocale)
		if code == "" {
			return Fallback, true
		}
	}

	if !supported[Language(code)] {
		return Fallback, false
	}
	return Language(code), true
}
