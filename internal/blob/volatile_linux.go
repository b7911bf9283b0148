package blob

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// checkVolatile refuses storage that would survive a power cycle. Ciphertext
// must never touch persistent media.
func checkVolatile(dir string) error {
	var fs unix.Statfs_t
	if err := unix.Statfs(dir, &fs); err != nil {
		return fmt.Errorf("blob: statfs %s: %w", dir, err)
	}
	switch fs.Type {
	case unix.TMPFS_MAGIC, unix.RAMFS_MAGIC:
		return nil
	}
	return fmt.Errorf("blob: %s is not on tmpfs/ramfs (fs type 0x%x); refusing to store ciphertext on persistent media", dir, fs.Type)
}
