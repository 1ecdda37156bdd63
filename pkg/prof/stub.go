//go:build !profile

package prof

import "errors"

// Enabled reports whether profiling support is compiled in.
const Enabled = false

// Profiling errors.
var (
	// ErrActive is defined for API compatibility but never returned.
	ErrActive = errors.New("profiling session already active")

	// ErrInvalidProfile is defined for API compatibility but never returned.
	ErrInvalidProfile = errors.New("invalid profile")

	// ErrNotEnabled is returned when profiles are requested from a binary
	// built without the "profile" tag.
	ErrNotEnabled = errors.New("profiling not compiled in (build with -tags profile)")
)

// Session is a no-op when built without the "profile" tag.
type Session struct{}

// Start returns an idle session for empty opts and [ErrNotEnabled]
// otherwise.
func Start(opts Options) (*Session, error) {
	if !opts.Empty() {
		return nil, ErrNotEnabled
	}
	return &Session{}, nil
}

// Stop is a no-op when built without the "profile" tag.
func (s *Session) Stop() error {
	return nil
}

// Write is a no-op when built without the "profile" tag.
func Write(_ Profile, _ string) error {
	return nil
}
