package oidc

import "time"

// Option defines a common functional options type
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		o(opts)
	}
}

// WithExpirySkew provides an optional expiry skew duration when checking a
// Session's expiration. A positive skew makes sessions expire early, which
// leaves headroom for the network round trip that will use the access token.
func WithExpirySkew(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *sessionOptions:
			v.withExpirySkew = d
		case *engineOptions:
			v.withExpirySkew = d
		}
	}
}

// WithNow provides an optional time source, overriding time.Now. Intended for
// tests that need to simulate the passage of time.
func WithNow(fn func() time.Time) Option {
	return func(o interface{}) {
		if o, ok := o.(*engineOptions); ok {
			o.withNow = fn
		}
	}
}
