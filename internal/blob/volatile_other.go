//go:build !linux

package blob

import "fmt"

func checkVolatile(dir string) error {
	return fmt.Errorf("blob: cannot verify that %s is RAM-backed on this platform; set storage.require_volatile to false only if you accept persistent media", dir)
}
