//go:build unix

package catalog

import (
	"os"
	"os/user"
	"strconv"
	"syscall"
)

func ownerName(st os.FileInfo) string {
	sys, ok := st.Sys().(*syscall.Stat_t)
	if !ok {
		return "unknown"
	}
	u, err := user.LookupId(strconv.FormatUint(uint64(sys.Uid), 10))
	if err != nil {
		return "unknown"
	}
	return u.Username
}
