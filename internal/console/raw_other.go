//go:build !linux

package console

// MakeRaw is a no-op here; keys are delivered after Enter.
func MakeRaw(int) (restore func() error, err error) {
	return func() error { return nil }, nil
}
