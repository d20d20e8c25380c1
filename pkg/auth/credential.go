package auth

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// Credential is a credential parsed from an Authorization header. It is one
// of *BasicCredential, *DigestCredential or *TokenCredential.
type Credential interface {
	// Principal returns the username carried by the credential, or "".
	Principal() string

	credential()
}

// BasicCredential is a decoded Basic username/password pair.
type BasicCredential struct {
	Username string
	Password string
}

func (c *BasicCredential) Principal() string { return c.Username }
func (*BasicCredential) credential()         {}

// DigestCredential holds the parameters of a Digest response.
type DigestCredential struct {
	Username  string
	Realm     string
	URI       string
	Nonce     string
	Response  string
	Opaque    string
	Qop       string
	NC        string
	CNonce    string
	Algorithm string
}

func (c *DigestCredential) Principal() string { return c.Username }
func (*DigestCredential) credential()         {}

// TokenCredential is a raw token presented under any scheme.
type TokenCredential struct {
	Scheme string
	Token  string
}

func (*TokenCredential) Principal() string { return "" }
func (*TokenCredential) credential()       {}

// SplitAuthorization splits an Authorization header value into its scheme
// token and the remainder. ok is false for an empty header, a header with
// no whitespace, or an empty remainder; such headers count as absent.
func SplitAuthorization(header string) (scheme, rest string, ok bool) {
	header = strings.TrimLeft(header, " \t")
	i := strings.IndexAny(header, " \t")
	if i < 1 {
		return "", "", false
	}
	rest = strings.TrimSpace(header[i:])
	if rest == "" {
		return "", "", false
	}
	return header[:i], rest, true
}

// ParseBasic decodes the base64 "user:password" payload of a Basic header.
func ParseBasic(payload string) (*BasicCredential, bool) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, false
	}
	username, password, found := strings.Cut(string(raw), ":")
	if !found {
		return nil, false
	}
	return &BasicCredential{Username: username, Password: password}, true
}

// ParseDigest parses the comma separated auth-params of a Digest header.
// Values may be quoted; quoted values may contain commas and backslash
// escapes.
func ParseDigest(payload string) (*DigestCredential, bool) {
	params := parseAuthParams(payload)
	if len(params) == 0 {
		return nil, false
	}
	return &DigestCredential{
		Username:  params["username"],
		Realm:     params["realm"],
		URI:       params["uri"],
		Nonce:     params["nonce"],
		Response:  params["response"],
		Opaque:    params["opaque"],
		Qop:       params["qop"],
		NC:        params["nc"],
		CNonce:    params["cnonce"],
		Algorithm: params["algorithm"],
	}, true
}

func parseAuthParams(s string) map[string]string {
	params := make(map[string]string)
	for {
		s = strings.TrimLeft(s, " \t,")
		if s == "" {
			return params
		}

		eq := strings.IndexByte(s, '=')
		if eq < 1 {
			// A bare token without a value; nothing useful follows.
			return params
		}
		name := strings.ToLower(strings.TrimSpace(s[:eq]))
		s = strings.TrimLeft(s[eq+1:], " \t")

		var value string
		if strings.HasPrefix(s, `"`) {
			var b strings.Builder
			i := 1
			for ; i < len(s); i++ {
				c := s[i]
				if c == '\\' && i+1 < len(s) {
					i++
					b.WriteByte(s[i])
					continue
				}
				if c == '"' {
					break
				}
				b.WriteByte(c)
			}
			if i >= len(s) {
				// Unterminated quoted string.
				return params
			}
			value = b.String()
			s = s[i+1:]
		} else {
			end := strings.IndexByte(s, ',')
			if end < 0 {
				end = len(s)
			}
			value = strings.TrimSpace(s[:end])
			s = s[end:]
		}
		params[name] = value
	}
}

// schemePayload returns the payload of the Authorization header when its
// scheme matches (case-insensitively).
func schemePayload(r *http.Request, scheme string) (string, bool) {
	got, rest, ok := SplitAuthorization(r.Header.Get("Authorization"))
	if !ok || !strings.EqualFold(got, scheme) {
		return "", false
	}
	return rest, true
}
