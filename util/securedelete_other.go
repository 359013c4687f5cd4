//go:build !linux

package util

import "errors"

// CheckInPlaceMedium cannot inspect the filesystem on this platform, so an in
// place overwrite is never guaranteed.
func CheckInPlaceMedium(path string) error {
	return errors.New("storage medium cannot be verified on this platform")
}
