package gotrue

// Provider names an external OAuth identity source.
type Provider string

const (
	ProviderBitbucket Provider = "bitbucket"
	ProviderGitHub    Provider = "github"
	ProviderGitLab    Provider = "gitlab"
	ProviderGoogle    Provider = "google"
)

// Valid reports whether p is a provider the identity API can redirect to.
func (p Provider) Valid() bool {
	switch p {
	case ProviderBitbucket, ProviderGitHub, ProviderGitLab, ProviderGoogle:
		return true
	}
	return false
}

// ExternalProviders lists which login options the instance enables.
type ExternalProviders struct {
	Bitbucket bool `json:"bitbucket"`
	Email     bool `json:"email"`
	Facebook  bool `json:"facebook"`
	GitHub    bool `json:"github"`
	GitLab    bool `json:"gitlab"`
	Google    bool `json:"google"`
}

// Enabled reports whether p is switched on.
func (e ExternalProviders) Enabled(p Provider) bool {
	switch p {
	case ProviderBitbucket:
		return e.Bitbucket
	case ProviderGitHub:
		return e.GitHub
	case ProviderGitLab:
		return e.GitLab
	case ProviderGoogle:
		return e.Google
	}
	return false
}

// Settings are the instance capability flags from GET /settings.
type Settings struct {
	External      ExternalProviders `json:"external"`
	DisableSignup bool              `json:"disable_signup"`
	Autoconfirm   bool              `json:"autoconfirm"`
}

// DefaultSettings is the conservative baseline used until settings are fetched:
// no providers, signup closed.
func DefaultSettings() Settings {
	return Settings{DisableSignup: true}
}
