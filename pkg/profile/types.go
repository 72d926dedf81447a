package profile

import "time"

// Type identifies the browser identity backing a session.
type Type string

const (
	TypeReal       Type = "real"
	TypePersistent Type = "persistent"
	TypeTemp       Type = "temp"
	TypeExplicit   Type = "explicit"
)

// State describes the identity a session launched with. Decided once at
// resolution time and immutable for the session's lifetime.
type State struct {
	Type                Type      `json:"type"`
	Dir                 string    `json:"dir"`
	SourceProfile       string    `json:"sourceProfile,omitempty"`
	CookieCopiedAt      time.Time `json:"cookieCopiedAt,omitzero"`
	ExtensionsAvailable bool      `json:"extensionsAvailable"`
}

// Capabilities enumerates what a profile type can do.
type Capabilities struct {
	SavedPasswords    bool `json:"savedPasswords"`
	Bookmarks         bool `json:"bookmarks"`
	FormAutofill      bool `json:"formAutofill"`
	Extensions        bool `json:"extensions"`
	LocalStorage      bool `json:"localStorage"`
	CookiePersistence bool `json:"cookiePersistence"`
}

// Capabilities derives what the profile type supports. Saved passwords,
// bookmarks, autofill, and extensions need the user's actual identity;
// storage persistence only needs a durable directory.
func (t Type) Capabilities() Capabilities {
	switch t {
	case TypeReal:
		return Capabilities{
			SavedPasswords:    true,
			Bookmarks:         true,
			FormAutofill:      true,
			Extensions:        true,
			LocalStorage:      true,
			CookiePersistence: true,
		}
	case TypePersistent:
		return Capabilities{
			LocalStorage:      true,
			CookiePersistence: true,
		}
	default:
		return Capabilities{}
	}
}

// Request describes what identity a session launch is asking for.
type Request struct {
	SessionID               string
	RealProfileDir          string
	ExplicitDir             string
	AllowPersistentFallback bool
	AllowTempFallback       bool
}

// Status is the operator-facing diagnostic view of a session's profile.
type Status struct {
	ProfileType       Type          `json:"profileType"`
	Capabilities      Capabilities  `json:"capabilities"`
	RealProfileLocked bool          `json:"realProfileLocked"`
	CookiesCopied     bool          `json:"cookiesCopied"`
	CookieAge         time.Duration `json:"cookieAge,omitempty"`
}
