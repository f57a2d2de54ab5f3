package oauth

import (
	"encoding/json"
	"fmt"

	"github.com/dgellow/mcp-relay/internal/crypto"
)

// RelayState is the downstream request context carried through the
// upstream round trip in the state parameter.
type RelayState struct {
	ClientID            string
	RedirectURI         string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// relayStateJSON holds every field as bytes. Query values are arbitrary
// octets and encoding/json rewrites invalid UTF-8 in strings.
type relayStateJSON struct {
	ClientID            []byte `json:"client_id"`
	RedirectURI         []byte `json:"redirect_uri"`
	State               []byte `json:"state,omitempty"`
	CodeChallenge       []byte `json:"code_challenge,omitempty"`
	CodeChallengeMethod []byte `json:"code_challenge_method,omitempty"`
}

func (rs RelayState) MarshalJSON() ([]byte, error) {
	return json.Marshal(relayStateJSON{
		ClientID:            []byte(rs.ClientID),
		RedirectURI:         []byte(rs.RedirectURI),
		State:               []byte(rs.State),
		CodeChallenge:       []byte(rs.CodeChallenge),
		CodeChallengeMethod: []byte(rs.CodeChallengeMethod),
	})
}

func (rs *RelayState) UnmarshalJSON(data []byte) error {
	var raw relayStateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*rs = RelayState{
		ClientID:            string(raw.ClientID),
		RedirectURI:         string(raw.RedirectURI),
		State:               string(raw.State),
		CodeChallenge:       string(raw.CodeChallenge),
		CodeChallengeMethod: string(raw.CodeChallengeMethod),
	}
	return nil
}

// StateCodec serializes RelayState into a single query-parameter-safe token.
// It is transparent unless built with a key.
type StateCodec struct {
	codec *crypto.Codec
}

func NewStateCodec(key []byte) *StateCodec {
	return &StateCodec{codec: crypto.NewCodec(key)}
}

func (c *StateCodec) Encode(rs RelayState) (string, error) {
	return c.codec.Encode(rs)
}

func (c *StateCodec) Decode(s string) (RelayState, error) {
	var rs RelayState
	if s == "" {
		return RelayState{}, fmt.Errorf("%w: empty", ErrMalformedState)
	}
	if err := c.codec.Decode(s, &rs); err != nil {
		return RelayState{}, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	if rs.ClientID == "" || rs.RedirectURI == "" {
		return RelayState{}, fmt.Errorf("%w: missing client_id or redirect_uri", ErrMalformedState)
	}
	return rs, nil
}
