//go:build !linux

package restart

func rebootSystem() error {
	return ErrUnsupported
}
