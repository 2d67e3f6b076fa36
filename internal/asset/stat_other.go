//go:build !linux

package asset

import (
	"os"
	"time"
)

func ctimeOf(os.FileInfo) time.Time {
	return time.Time{}
}
