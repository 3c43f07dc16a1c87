//go:build !windows

package native

// Open reports ErrUnavailable: only Windows CNG is implemented.
func Open() (API, error) {
	return nil, ErrUnavailable
}
