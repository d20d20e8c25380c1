package auth

// Option configures an authenticator at construction. Options that do not
// apply to a scheme are ignored by its constructor.
type Option func(*options)

type options struct {
	scheme string
	realm  string

	lookup     SecretLookup
	verifier   PasswordVerifier
	hasher     PasswordHasher
	identities IdentityResolver

	nonces        NonceSource
	opaques       NonceSource
	ha1Passwords  bool
	algorithm     Algorithm
	qop           bool
	oneTimeNonces bool

	tokens      TokenVerifier
	tokenHeader string
}

func buildOptions(defaultScheme string, opts []Option) options {
	o := options{scheme: defaultScheme, realm: DefaultRealm, algorithm: AlgorithmMD5}
	for _, opt := range opts {
		opt(&o)
	}
	if o.scheme == "" {
		o.scheme = defaultScheme
	}
	if o.realm == "" {
		o.realm = DefaultRealm
	}
	if o.identities == nil {
		if r, ok := o.lookup.(IdentityResolver); ok {
			o.identities = r
		}
	}
	return o
}

// WithScheme overrides the scheme name (Basic, Digest or Bearer by default).
func WithScheme(scheme string) Option {
	return func(o *options) { o.scheme = scheme }
}

// WithRealm sets the realm advertised in challenges.
func WithRealm(realm string) Option {
	return func(o *options) { o.realm = realm }
}

// WithSecretLookup sets where stored secrets come from (Basic, Digest).
func WithSecretLookup(l SecretLookup) Option {
	return func(o *options) { o.lookup = l }
}

// WithIdentityResolver fills Basic and Digest identities from user records.
// Without it, a SecretLookup that also implements IdentityResolver is used.
func WithIdentityResolver(r IdentityResolver) Option {
	return func(o *options) { o.identities = r }
}

// WithPasswordVerifier makes v authoritative for Basic credentials.
func WithPasswordVerifier(v PasswordVerifier) Option {
	return func(o *options) { o.verifier = v }
}

// WithPasswordHasher hashes Basic client passwords before comparison.
func WithPasswordHasher(h PasswordHasher) Option {
	return func(o *options) { o.hasher = h }
}

// WithNonceSource replaces the Digest nonce generator/verifier.
func WithNonceSource(s NonceSource) Option {
	return func(o *options) { o.nonces = s }
}

// WithOpaqueSource replaces the Digest opaque generator/verifier.
func WithOpaqueSource(s NonceSource) Option {
	return func(o *options) { o.opaques = s }
}

// WithHA1Passwords declares that looked-up Digest secrets are already HA1
// values rather than plaintext passwords.
func WithHA1Passwords() Option {
	return func(o *options) { o.ha1Passwords = true }
}

// WithAlgorithm selects the Digest hash function.
func WithAlgorithm(a Algorithm) Option {
	return func(o *options) { o.algorithm = a }
}

// WithQop advertises qop="auth" in Digest challenges and accepts the qop
// response form.
func WithQop() Option {
	return func(o *options) { o.qop = true }
}

// WithOneTimeNonces consumes the Digest nonce after each successful
// response, so every request needs a fresh challenge. It has no effect when
// the nonce source is not a NonceConsumer.
func WithOneTimeNonces() Option {
	return func(o *options) { o.oneTimeNonces = true }
}

// WithTokenVerifier sets the verifier for Token credentials.
func WithTokenVerifier(v TokenVerifier) Option {
	return func(o *options) { o.tokens = v }
}

// WithTokenHeader reads the raw token from a custom header (for example
// X-API-Key) instead of the Authorization header. Naming Authorization
// itself keeps the scheme-prefixed form.
func WithTokenHeader(name string) Option {
	return func(o *options) { o.tokenHeader = name }
}
