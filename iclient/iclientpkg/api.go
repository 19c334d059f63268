// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package iclientpkg implements a client of translator graphs, presenting
// each mounted volume beneath a virtual mount point (VMP) through a set of
// POSIX-like calls and, optionally, via FUSE.
//
// To configure an iclientpkg instance, Start() is called passing a
// ConfigStruct (typically obtained from LoadConfigFile()). Here is a sample
// YAML config file (${VAR} references are expanded from the environment):
//
//  LogFilePath:              iclient.log
//  LogToConsole:             true
//  TraceEnabled:             false
//  IOBufSize:                131072
//  ReaddirBlockSize:         4096
//  SendfileBlockSize:        4096
//  MaxSymlinks:              40
//  FDBase:                   3
//  FramesUnwindPollInterval: 1s
//  ITableHashSize:           14057
//  ITableLRULimit:           1024
//  HTTPServerIPAddr:         127.0.0.1
//  HTTPServerPort:           15347  # 0 disables the embedded HTTP Server
//  HTTPServerMaxConnections: 64
//  FUSEEnabled:              true
//  FUSEVMP:                  /mnt/gluster
//  FUSEMountPointDirPath:    /mnt/fuse
//  FUSEAllowOther:           true
//  FUSEMaxRead:              131072
//  FUSEMaxWrite:             131072
//  FUSEEntryValidDuration:   1s
//  FUSEAttrValidDuration:    1s
//  FUSELogEnabled:           false
//  Mounts:
//    - VMP:           /mnt/gluster
//      SpecFile:      ${HOME}/vol.spec
//      VolumeName:    client
//      LogFile:       /var/log/xlclient-gluster.log
//      LogLevel:      WARNING
//      LookupTimeout: 1s
//      StatTimeout:   1s
//
// Any key not present takes the value returned by DefaultConfig().
//
// The embedded HTTP Server (at URL http://<HTTPServerIPAddr>:<HTTPServerPort>)
// responds to the following:
//
//  GET /config
//
// This will return a JSON document of the ConfigStruct in effect.
//
//  GET /inodes?vmp=<VMP>
//
// This will return a JSON document describing every inode of the inode
// table of the client serving <VMP>.
//
//  GET /metrics
//
// This will return the Prometheus metrics of this instance.
//
//  GET /version
//
// This will return the version string.
//
//  GET /vmps
//
// This will return a JSON document describing each mounted VMP.
//
// Paths passed to the POSIX-like calls are resolved against the current
// directory (see Chdir()) and then against the VMP registry: the VMP with
// the longest matching prefix serves the call. Errors returned carry a
// unix.Errno retrievable via package blunder.
//
package iclientpkg

import (
	"io"
	"time"

	"golang.org/x/sys/unix"

	"github.com/NVIDIA/xlclient/xlator"
)

// Start is called to start serving. A nil config is equivalent to
// DefaultConfig().
//
func Start(config *ConfigStruct, fissionErrChan chan error) (err error) {
	err = start(config, fissionErrChan)
	return
}

// Stop is called to stop serving. Open descriptors are closed and every
// VMP is unmounted.
//
func Stop() (err error) {
	err = stop()
	return
}

// Signal is called to interrupt the server for performing operations such as log rotation.
//
func Signal() (err error) {
	err = signal()
	return
}

// LoadConfigFile reads and validates a YAML config file.
//
func LoadConfigFile(configFilePath string) (config *ConfigStruct, err error) {
	config, err = loadConfigFile(configFilePath)
	return
}

// LogFatalf is a wrapper around the internal logFatalf() func called by iclient/main.go::main().
//
func LogFatalf(format string, args ...interface{}) {
	logFatalf(format, args...)
}

// LogWarnf is a wrapper around the internal logWarnf() func called by iclient/main.go::main().
//
func LogWarnf(format string, args ...interface{}) {
	logWarnf(format, args...)
}

// LogInfof is a wrapper around the internal logInfof() func called by iclient/main.go::main().
//
func LogInfof(format string, args ...interface{}) {
	logInfof(format, args...)
}

// Mount initializes a client for the volume described by params and
// registers it at vmp. Mounting an already registered VMP is a no-op.
//
func Mount(vmp string, params *InitParamsStruct) (err error) {
	err = mount(vmp, params)
	return
}

// Unmount unregisters vmp and tears down its client once every in-flight
// call has unwound.
//
func Unmount(vmp string) (err error) {
	err = unmount(vmp)
	return
}

// UnmountAll unmounts every VMP.
//
func UnmountAll() (err error) {
	err = unmountAll()
	return
}

// Open returns a descriptor for path. If flags includes O_CREAT, mode
// supplies the permissions of a newly created file.
//
func Open(path string, flags int, mode uint32) (fd int, err error) {
	fd, err = open(path, flags, mode)
	return
}

// Creat is equivalent to Open(path, O_CREAT|O_WRONLY|O_TRUNC, mode).
//
func Creat(path string, mode uint32) (fd int, err error) {
	fd, err = open(path, unix.O_CREAT|unix.O_WRONLY|unix.O_TRUNC, mode)
	return
}

func Close(fd int) (err error) {
	err = closeFD(fd)
	return
}

// Stat returns the attributes of path, following a trailing symlink.
//
func Stat(path string) (attr *xlator.StatStruct, err error) {
	attr, err = stat(path, true)
	return
}

// Lstat returns the attributes of path itself.
//
func Lstat(path string) (attr *xlator.StatStruct, err error) {
	attr, err = stat(path, false)
	return
}

func Mkdir(path string, mode uint32) (err error) {
	err = mkdir(path, mode)
	return
}

func Rmdir(path string) (err error) {
	err = rmdir(path)
	return
}

func Unlink(path string) (err error) {
	err = unlink(path)
	return
}

// Remove removes path whether it is a directory or not.
//
func Remove(path string) (err error) {
	err = remove(path)
	return
}

// Rename requires both paths be served by the same VMP (EXDEV otherwise).
//
func Rename(oldPath string, newPath string) (err error) {
	err = rename(oldPath, newPath)
	return
}

// Link requires both paths be served by the same VMP (EXDEV otherwise).
//
func Link(oldPath string, newPath string) (err error) {
	err = link(oldPath, newPath)
	return
}

func Symlink(target string, linkPath string) (err error) {
	err = symlink(target, linkPath)
	return
}

func Readlink(path string) (target string, err error) {
	target, err = readlink(path)
	return
}

// Realpath returns the canonical form of path with every symlink
// resolved, prefixed by the VMP serving it.
//
func Realpath(path string) (resolved string, err error) {
	resolved, err = realpath(path)
	return
}

func Chmod(path string, mode uint32) (err error) {
	err = chmod(path, mode)
	return
}

// Chown changes the owner of path. A uid or gid of -1 leaves it unchanged.
//
func Chown(path string, uid int, gid int) (err error) {
	err = chown(path, uid, gid, true)
	return
}

// Lchown is Chown without following a trailing symlink.
//
func Lchown(path string, uid int, gid int) (err error) {
	err = chown(path, uid, gid, false)
	return
}

func Utimes(path string, atime time.Time, mtime time.Time) (err error) {
	err = utimes("utimes", path, atime, mtime)
	return
}

// Utime sets the access and modification times of path to those of times
// (whole seconds) or, if times is nil, to the current time.
//
func Utime(path string, times *unix.Utimbuf) (err error) {
	err = utime(path, times)
	return
}

func Truncate(path string, length int64) (err error) {
	err = truncate(path, length)
	return
}

func Mknod(path string, mode uint32, dev uint64) (err error) {
	err = mknod("mknod", path, mode, dev)
	return
}

func Mkfifo(path string, mode uint32) (err error) {
	err = mknod("mkfifo", path, unix.S_IFIFO|(mode&07777), 0)
	return
}

func Statfs(path string) (statFS *xlator.StatFSStruct, err error) {
	statFS, err = statfs("statfs", path)
	return
}

// Statvfs reports the same figures as Statfs.
//
func Statvfs(path string) (statFS *xlator.StatFSStruct, err error) {
	statFS, err = statfs("statvfs", path)
	return
}

// Read reads from, and advances, the descriptor's offset.
//
func Read(fd int, buf []byte) (n int, err error) {
	n, err = read(fd, buf)
	return
}

func Pread(fd int, buf []byte, offset int64) (n int, err error) {
	n, err = pread(fd, buf, offset)
	return
}

func Readv(fd int, bufs [][]byte) (n int, err error) {
	n, err = readv(fd, bufs)
	return
}

// Write writes at, and advances, the descriptor's offset.
//
func Write(fd int, buf []byte) (n int, err error) {
	n, err = write(fd, buf)
	return
}

func Pwrite(fd int, buf []byte, offset int64) (n int, err error) {
	n, err = pwrite(fd, buf, offset)
	return
}

func Writev(fd int, bufs [][]byte) (n int, err error) {
	n, err = writev(fd, bufs)
	return
}

// Lseek accepts a whence of unix.SEEK_SET, unix.SEEK_CUR, or unix.SEEK_END.
//
func Lseek(fd int, offset int64, whence int) (newOffset int64, err error) {
	newOffset, err = lseek(fd, offset, whence)
	return
}

func Fstat(fd int) (stat *xlator.StatStruct, err error) {
	stat, err = fstat(fd)
	return
}

func Fchmod(fd int, mode uint32) (err error) {
	err = fchmod(fd, mode)
	return
}

func Fchown(fd int, uid int, gid int) (err error) {
	err = fchown(fd, uid, gid)
	return
}

func Ftruncate(fd int, length int64) (err error) {
	err = ftruncate(fd, length)
	return
}

func Fsync(fd int) (err error) {
	err = fsync(fd)
	return
}

// Fcntl supports only the advisory locking commands unix.F_GETLK,
// unix.F_SETLK, and unix.F_SETLKW.
//
func Fcntl(fd int, cmd int, lock *unix.Flock_t) (err error) {
	err = fcntl(fd, cmd, lock)
	return
}

// Sendfile copies up to count bytes of fd to out. If offset is nil, the
// descriptor's offset is used and advanced; otherwise *offset is used and
// updated.
//
func Sendfile(out io.Writer, fd int, offset *int64, count int) (n int64, err error) {
	n, err = sendfile(out, fd, offset, count)
	return
}

// ReadAsync issues a read of size bytes at offset (or, if offset < 0, at
// the descriptor's offset) and returns at once. The cbk is later invoked
// on a goroutine of its own.
//
func ReadAsync(fd int, size int, offset int64, cbk ReadAsyncCbk, cbkData interface{}) (err error) {
	err = readAsync(fd, size, offset, cbk, cbkData)
	return
}

// WriteAsync is the write counterpart of ReadAsync.
//
func WriteAsync(fd int, data []byte, offset int64, cbk WriteAsyncCbk, cbkData interface{}) (err error) {
	err = writeAsync(fd, data, offset, cbk, cbkData)
	return
}

// Getxattr copies the value of xattr name of path into dest. A zero length
// dest returns just the value's size.
//
func Getxattr(path string, name string, dest []byte) (size int, err error) {
	size, err = getxattr("getxattr", path, true, name, dest)
	return
}

func Lgetxattr(path string, name string, dest []byte) (size int, err error) {
	size, err = getxattr("lgetxattr", path, false, name, dest)
	return
}

func Fgetxattr(fd int, name string, dest []byte) (size int, err error) {
	size, err = fgetxattr(fd, name, dest)
	return
}

// Setxattr accepts flags of 0, unix.XATTR_CREATE, or unix.XATTR_REPLACE.
//
func Setxattr(path string, name string, value []byte, flags int) (err error) {
	err = setxattr("setxattr", path, true, name, value, flags)
	return
}

func Lsetxattr(path string, name string, value []byte, flags int) (err error) {
	err = setxattr("lsetxattr", path, false, name, value, flags)
	return
}

func Fsetxattr(fd int, name string, value []byte, flags int) (err error) {
	err = fsetxattr(fd, name, value, flags)
	return
}

// Listxattr is not supported and always fails with ENOSYS. Likewise the
// other listing and removal variants below.
//
func Listxattr(path string, dest []byte) (size int, err error) {
	size, err = -1, xattrNotSupported("listxattr")
	return
}

func Llistxattr(path string, dest []byte) (size int, err error) {
	size, err = -1, xattrNotSupported("llistxattr")
	return
}

func Flistxattr(fd int, dest []byte) (size int, err error) {
	size, err = -1, xattrNotSupported("flistxattr")
	return
}

func Removexattr(path string, name string) (err error) {
	err = xattrNotSupported("removexattr")
	return
}

func Lremovexattr(path string, name string) (err error) {
	err = xattrNotSupported("lremovexattr")
	return
}

func Fremovexattr(fd int, name string) (err error) {
	err = xattrNotSupported("fremovexattr")
	return
}

func Opendir(path string) (fd int, err error) {
	fd, err = opendir(path)
	return
}

// Readdir returns the next entry of the directory, or nil at its end.
//
func Readdir(fd int) (dirent *DirentStruct, err error) {
	dirent, err = readdir(fd)
	return
}

// ReaddirR fills entry with the next entry of the directory, returning it
// (or nil at the end) as result.
//
func ReaddirR(fd int, entry *DirentStruct) (result *DirentStruct, err error) {
	result, err = readdirR(fd, entry)
	return
}

// Getdents packs as many linux_dirent64 records as fit into buf.
//
func Getdents(fd int, buf []byte) (n int, err error) {
	n, err = getdents(fd, buf)
	return
}

func Closedir(fd int) (err error) {
	err = closedir(fd)
	return
}

func Seekdir(fd int, offset int64) (err error) {
	err = seekdir(fd, offset)
	return
}

func Telldir(fd int) (offset int64, err error) {
	offset, err = telldir(fd)
	return
}

func Rewinddir(fd int) (err error) {
	err = rewinddir(fd)
	return
}

func Chdir(path string) (err error) {
	err = chdir(path)
	return
}

func Fchdir(fd int) (err error) {
	err = fchdir(fd)
	return
}

// Getcwd returns the current directory provided it fits in size bytes
// (including a terminating NUL). A size of 0 imposes no limit.
//
func Getcwd(size int) (cwd string, err error) {
	cwd, err = getcwd(size)
	return
}

// Get returns, in a single round trip, the attributes of path and (if it
// is a regular file of no more than len(buf) bytes) its content.
//
func Get(path string, buf []byte) (n int, stat *xlator.StatStruct, err error) {
	n, stat, err = get(path, buf)
	return
}

// GetAsync is the asynchronous form of Get.
//
func GetAsync(path string, size int, cbk GetAsyncCbk, cbkData interface{}) (err error) {
	err = getAsync(path, size, cbk, cbkData)
	return
}
