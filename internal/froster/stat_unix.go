//go:build unix

package froster

import (
	"io/fs"
	"os/user"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// statTimes extracts atime plus owner and group names from a FileInfo.
// Unknown uids/gids fall back to their numeric form.
func statTimes(info fs.FileInfo) (atime time.Time, owner, group string) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		// Some fs.FileInfo implementations (archives, fakes) carry no
		// unix stat. Use mtime and empty names.
		return info.ModTime(), "", ""
	}
	atime = time.Unix(stat.Atim.Sec, stat.Atim.Nsec)
	owner = UIDName(int(stat.Uid))
	group = GIDName(int(stat.Gid))
	return atime, owner, group
}

// AtimeMtime extracts access and modify times as unix seconds. When
// the FileInfo carries no unix stat, both fall back to mtime.
func AtimeMtime(info fs.FileInfo) (atime, mtime int64) {
	mtime = info.ModTime().Unix()
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return mtime, mtime
	}
	return stat.Atim.Sec, mtime
}

// UIDName resolves a uid to a user name, falling back to the number.
func UIDName(uid int) string {
	if u, err := user.LookupId(strconv.Itoa(uid)); err == nil {
		return u.Username
	}
	return strconv.Itoa(uid)
}

// GIDName resolves a gid to a group name, falling back to the number.
func GIDName(gid int) string {
	if g, err := user.LookupGroupId(strconv.Itoa(gid)); err == nil {
		return g.Name
	}
	return strconv.Itoa(gid)
}

// writableDir reports whether the calling user may create and unlink
// entries in dir, which is what the packer needs before it removes
// tarred originals.
func writableDir(dir string) bool {
	return unix.Access(dir, unix.W_OK) == nil
}

// readable reports whether the calling user may open path for reading.
func readable(path string) bool {
	return unix.Access(path, unix.R_OK) == nil
}
