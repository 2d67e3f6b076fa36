//go:build linux

package asset

import (
	"os"
	"syscall"
	"time"
)

// ctimeOf extracts the inode change time when the platform exposes it.
func ctimeOf(info os.FileInfo) time.Time {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return time.Time{}
	}
	return time.Unix(st.Ctim.Sec, st.Ctim.Nsec).UTC().Truncate(time.Second)
}
