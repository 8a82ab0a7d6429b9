package domain

import (
	"fmt"
	"time"
)

// ClientType is a closed variant: every switch over it handles both cases
// and treats anything else as a programming error.
type ClientType int

const (
	// ClientPublic cannot keep a secret and must use PKCE.
	ClientPublic ClientType = iota + 1
	// ClientConfidential authenticates with a secret at the token step.
	ClientConfidential
)

func (t ClientType) String() string {
	switch t {
	case ClientPublic:
		return "public"
	case ClientConfidential:
		return "confidential"
	default:
		return fmt.Sprintf("ClientType(%d)", int(t))
	}
}

func ParseClientType(s string) (ClientType, error) {
	switch s {
	case "public":
		return ClientPublic, nil
	case "confidential":
		return ClientConfidential, nil
	default:
		return 0, fmt.Errorf("unknown client type %q", s)
	}
}

type Client struct {
	ID           string
	Name         string
	Type         ClientType
	SecretHash   string // confidential clients only
	RedirectURIs []string
	Scopes       []string
	Protected    bool // seeded clients cannot be disabled
	Disabled     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RequiresPKCE reports whether authorization requests from this client must
// carry a code challenge.
func (c Client) RequiresPKCE() bool {
	switch c.Type {
	case ClientPublic:
		return true
	case ClientConfidential:
		return false
	default:
		panic("domain: unhandled client type " + c.Type.String())
	}
}

// AuthenticatesWithSecret reports whether the token step must verify a
// client secret.
func (c Client) AuthenticatesWithSecret() bool {
	switch c.Type {
	case ClientPublic:
		return false
	case ClientConfidential:
		return true
	default:
		panic("domain: unhandled client type " + c.Type.String())
	}
}
