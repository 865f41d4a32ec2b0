package cache

// Scope identifies one cached snapshot: the config data of a collection, or
// its messages for one language.
type Scope struct {
	Collection string
	Lang       string
}

// ConfigScope returns the scope holding a collection's config data.
func ConfigScope(collection string) Scope {
	return Scope{Collection: collection}
}

// MessageScope returns the scope holding a collection's messages for lang.
func MessageScope(collection, lang string) Scope {
	return Scope{Collection: collection, Lang: lang}
}

// IsMessages reports whether the scope holds message data.
func (s Scope) IsMessages() bool {
	return s.Lang != ""
}

func (s Scope) String() string {
	if s.IsMessages() {
		return "messages:" + s.Collection + ":" + s.Lang
	}
	return "config:" + s.Collection
}

// Lookup is the outcome of a cache read.
type Lookup int

const (
	// ScopeMissing means nothing is cached for the scope; the caller should load it.
	ScopeMissing Lookup = iota
	// KeyMissing means the scope is cached but does not contain the key.
	KeyMissing
	// Found means the key was served from the cache.
	Found
)

// Hit reports whether the lookup was served from the cache.
func (l Lookup) Hit() bool {
	return l == Found
}

func (l Lookup) String() string {
	switch l {
	case Found:
		return "found"
	case KeyMissing:
		return "key_missing"
	default:
		return "scope_missing"
	}
}
