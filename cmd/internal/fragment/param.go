package fragment

// Type is the kind of token a redirect carried.
type Type string

const (
	TypeConfirmation Type = "confirmation"
	TypeInvite       Type = "invite"
	TypeRecovery     Type = "recovery"
	TypeEmailChange  Type = "email_change"
	TypeAccess       Type = "access"
)

const (
	// ErrorAccessDenied is the only error a redirect can report.
	ErrorAccessDenied = "access_denied"

	// StatusAccessDenied accompanies ErrorAccessDenied.
	StatusAccessDenied = 403

	// CookieName carries the access token to server-rendered pages.
	CookieName = "nf_jwt"
)

// TokenParam classifies one redirect fragment.
// Type and Error are never both set.
type TokenParam struct {
	Token  string `json:"token,omitempty"`
	Type   Type   `json:"type,omitempty"`
	Error  string `json:"error,omitempty"`
	Status int    `json:"status,omitempty"`
}

// Default is the "nothing to do" classification.
var Default = TokenParam{}

// HasToken reports whether a token type was matched. The token itself may be
// empty for a malformed "type_token=" fragment.
func (p TokenParam) HasToken() bool { return p.Type != "" }

// IsError reports whether the redirect was an access-denied error.
func (p TokenParam) IsError() bool { return p.Error != "" }

// IsDefault reports whether p carries nothing.
func (p TokenParam) IsDefault() bool { return p == Default }
