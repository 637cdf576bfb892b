//go:build !profile

package prof

// Session is a running set of profiles. Without the "profile" tag it is
// always nil.
type Session struct{}

// Enabled always returns false when built without the "profile" tag.
func Enabled() bool { return false }

// Start is a no-op when built without the "profile" tag.
func Start(_ Options) (*Session, error) {
	return nil, nil
}

// Stop is a no-op when built without the "profile" tag.
func (s *Session) Stop() error {
	return nil
}
