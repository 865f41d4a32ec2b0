package configstore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/c360/configstore/docstore"
	"github.com/c360/configstore/errors"
	"github.com/c360/configstore/natsclient"
)

// Collection declares a collection of config and message documents.
type Collection struct {
	Name string `json:"name" yaml:"name"`
	// Database overrides the store database for this collection.
	Database string `json:"database,omitempty" yaml:"database,omitempty"`
	// DefaultLanguage is the message fallback. Empty uses the store default.
	DefaultLanguage string `json:"default_language,omitempty" yaml:"default_language,omitempty"`
	// Languages are warmed when the collection is attached.
	Languages []string `json:"languages,omitempty" yaml:"languages,omitempty"`
}

// Validate checks the declaration.
func (c Collection) Validate() error {
	if c.Name == "" {
		return errors.WrapInvalid(errors.ErrMissingField, "configstore", "RegisterCollection", "collection name is empty")
	}
	if natsclient.SanitizeBucketName(c.Name) != c.Name {
		return errors.WrapInvalid(fmt.Errorf("%w: collection %q", errors.ErrInvalidData, c.Name),
			"configstore", "RegisterCollection", "validate collection name")
	}
	if c.DefaultLanguage != "" {
		if err := docstore.ValidateLang(c.DefaultLanguage); err != nil {
			return err
		}
	}
	for _, lang := range c.Languages {
		if err := docstore.ValidateLang(lang); err != nil {
			return err
		}
	}
	return nil
}

// LanguageRegistry records which languages each collection carries and its
// fallback language. It is process-scoped state owned by the caller, so
// independent stores can run side by side.
type LanguageRegistry struct {
	mu       sync.RWMutex
	langs    map[string]map[string]struct{}
	defaults map[string]string
}

// NewLanguageRegistry creates an empty registry.
func NewLanguageRegistry() *LanguageRegistry {
	return &LanguageRegistry{
		langs:    make(map[string]map[string]struct{}),
		defaults: make(map[string]string),
	}
}

// Add records langs for collection.
func (r *LanguageRegistry) Add(collection string, langs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.langs[collection]
	if !ok {
		set = make(map[string]struct{})
		r.langs[collection] = set
	}
	for _, l := range langs {
		set[l] = struct{}{}
	}
}

// Languages returns the languages of collection in order.
func (r *LanguageRegistry) Languages(collection string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.langs[collection]))
	for l := range r.langs[collection] {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// SetDefault sets the fallback language of collection.
func (r *LanguageRegistry) SetDefault(collection, lang string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[collection] = lang
}

// Default returns the fallback language of collection.
func (r *LanguageRegistry) Default(collection string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.defaults[collection]
	return l, ok
}

// Collections lists every collection with recorded languages.
func (r *LanguageRegistry) Collections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.langs))
	for c := range r.langs {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
