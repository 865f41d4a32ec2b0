package docstore

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/c360/configstore/errors"
)

// Keys within a collection bucket.
const (
	ConfigKey     = "config"
	MessagePrefix = "messages."
	ObjectPrefix  = "objects."
)

// Envelope keys alongside the codec's reserved keys.
const (
	KeyOrigin = "_origin"
	KeyData   = "data"
)

var langPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateLang checks that lang can be used as a key token.
func ValidateLang(lang string) error {
	if !langPattern.MatchString(lang) {
		return errors.WrapInvalid(fmt.Errorf("%w: language code %q", errors.ErrInvalidData, lang),
			"docstore", "ValidateLang", "validate language")
	}
	return nil
}

// MessageKey returns the key holding messages for lang.
func MessageKey(lang string) string {
	return MessagePrefix + lang
}

// KeyKind classifies a bucket key.
type KeyKind int

const (
	KeyOther KeyKind = iota
	KeyConfig
	KeyMessages
	KeyObject
)

// ParseKey classifies key and, for message keys, returns the language.
func ParseKey(key string) (KeyKind, string) {
	switch {
	case key == ConfigKey:
		return KeyConfig, ""
	case strings.HasPrefix(key, MessagePrefix):
		lang := strings.TrimPrefix(key, MessagePrefix)
		if lang == "" || strings.Contains(lang, ".") {
			return KeyOther, ""
		}
		return KeyMessages, lang
	case strings.HasPrefix(key, ObjectPrefix):
		return KeyObject, strings.TrimPrefix(key, ObjectPrefix)
	default:
		return KeyOther, ""
	}
}
