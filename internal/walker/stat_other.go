//go:build !linux && !darwin

package walker

import (
	"os"
	"time"
)

func birthTime(_ string, _ os.FileInfo) (time.Time, bool) {
	return time.Time{}, false
}

func changeTime(info os.FileInfo) time.Time {
	return info.ModTime()
}
