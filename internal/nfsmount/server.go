package nfsmount

import (
	"errors"
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	nfs "github.com/willscott/go-nfs"
	nfshelper "github.com/willscott/go-nfs/helpers"
)

// handleCacheSize bounds the file handles go-nfs keeps per export.
const handleCacheSize = 4096

// Server is a running NFS preview.
type Server struct {
	listener net.Listener
}

// NewServer exports fs on addr. A missing host binds localhost and a missing
// addr also picks a free port.
func NewServer(fs billy.Filesystem, addr string) (*Server, error) {
	addr, err := listenAddr(addr)
	if err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("nfs listen: %w", err)
	}

	handler := nfshelper.NewCachingHandler(nfshelper.NewNullAuthHandler(fs), handleCacheSize)
	go func() {
		_ = nfs.Serve(listener, handler)
	}()
	return &Server{listener: listener}, nil
}

func listenAddr(addr string) (string, error) {
	if addr == "" {
		return "localhost:0", nil
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("preview address %q: %w", addr, err)
	}
	if host == "" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port), nil
}

// Addr is the address the export listens on.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Port is the TCP port of the export. NFS and mountd share it.
func (s *Server) Port() int { return s.listener.Addr().(*net.TCPAddr).Port }

func (s *Server) Close() error { return s.listener.Close() }

// mountOptions are the read-only NFSv3 loopback options for goos.
func mountOptions(goos string, port int) (string, error) {
	p := strconv.Itoa(port)
	opts := []string{"port=" + p, "mountport=" + p, "vers=3", "tcp"}
	switch goos {
	case "darwin":
		opts = append(opts, "locallocks", "noresvport", "rdonly")
	case "linux":
		opts = append(opts, "local_lock=all", "nolock", "ro")
	default:
		return "", fmt.Errorf("nfs preview mounts are not supported on %s", goos)
	}
	return strings.Join(opts, ","), nil
}

// MountCommand is the command line that mounts the export on port at
// mountpoint.
func MountCommand(port int, mountpoint string) ([]string, error) {
	opts, err := mountOptions(runtime.GOOS, port)
	if err != nil {
		return nil, err
	}
	return []string{"sudo", "mount", "-t", "nfs", "-o", opts, "localhost:/", mountpoint}, nil
}

// unmountCommands are tried in order until one succeeds.
func unmountCommands(goos, mountpoint string) [][]string {
	umount := []string{"sudo", "umount", mountpoint}
	if goos == "darwin" {
		return [][]string{{"diskutil", "unmount", mountpoint}, umount}
	}
	return [][]string{umount}
}

// Mount mounts the export read-only at mountpoint through sudo.
func Mount(port int, mountpoint string) error {
	args, err := MountCommand(port, mountpoint)
	if err != nil {
		return err
	}
	return run(args)
}

// Unmount releases a mount made by Mount.
func Unmount(mountpoint string) error {
	var errs []error
	for _, args := range unmountCommands(runtime.GOOS, mountpoint) {
		err := run(args)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func run(args []string) error {
	out, err := exec.Command(args[0], args[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w\n%s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
