// Package remotefs adapts an SFTP session to the treefs.FS interface,
// so the same scanner/updater machinery that walks a local tree can
// account a tree reachable over SSH. This is an opt-in, explicitly
// secondary target: accounting operations default to the local
// filesystem, and a caller must construct a remotefs.FS deliberately.
package remotefs

import (
	"context"
	"io/fs"
	"net"
	pathpkg "path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/sadopc/duidx/internal/treefs"
)

// Config identifies and authenticates a remote SFTP target.
type Config struct {
	// Target is a "user@host" string.
	Target string
	// Port is the SSH port; defaults to 22 when zero.
	Port int
	// BatchMode disables interactive host-key and password prompts,
	// failing instead when non-interactive authentication is impossible.
	BatchMode bool
}

// sftpClient is the subset of *sftp.Client the FS implementation needs;
// an interface so it can be faked in tests without a real SSH server.
type sftpClient interface {
	ReadDir(string) ([]fs.FileInfo, error)
	Stat(string) (fs.FileInfo, error)
	RealPath(string) (string, error)
}

// FS is a treefs.FS backed by a live SFTP session. Paths are POSIX-style
// remote paths, canonicalized via the server's RealPath.
type FS struct {
	client sftpClient
	closer func() error
}

// Dial authenticates to cfg.Target over SSH and opens an SFTP session.
// The returned FS must be closed with Close when the caller is done.
func Dial(ctx context.Context, cfg Config) (*FS, error) {
	port := cfg.Port
	if port == 0 {
		port = 22
	}

	user, host, err := splitUserHost(cfg.Target)
	if err != nil {
		return nil, err
	}

	hostsStore, err := openKnownHostsStore()
	if err != nil {
		return nil, err
	}
	hostCB, err := hostsStore.callback(host, port, cfg.BatchMode)
	if err != nil {
		return nil, err
	}

	auth, err := collectAuthMethods(user, host, cfg.BatchMode)
	if err != nil {
		return nil, err
	}

	sshConfig := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostCB,
		Timeout:         15 * time.Second,
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", host)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "SSH handshake with %s failed", host)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, errors.Wrap(err, "cannot start SFTP subsystem")
	}

	return &FS{
		client: sftpClient,
		closer: func() error {
			sftpErr := sftpClient.Close()
			sshErr := sshClient.Close()
			if sftpErr != nil {
				return sftpErr
			}
			return sshErr
		},
	}, nil
}

// Close tears down the underlying SFTP session and SSH connection.
func (f *FS) Close() error { return f.closer() }

func (f *FS) Stat(path string) (fs.FileInfo, error) {
	return f.client.Stat(clean(path))
}

func (f *FS) ReadDir(path string) ([]fs.FileInfo, error) {
	entries, err := f.client.ReadDir(clean(path))
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (f *FS) Join(elem ...string) string {
	return clean(pathpkg.Join(elem...))
}

// Canonicalize resolves path via the server's RealPath, the SFTP
// equivalent of following every symlink and making the path absolute.
func (f *FS) Canonicalize(path string) (string, error) {
	resolved, err := f.client.RealPath(clean(path))
	if err != nil {
		return "", err
	}
	return clean(resolved), nil
}

func (f *FS) IsRoot(path string) bool {
	return clean(path) == "/"
}

func (f *FS) Parent(path string) string {
	return clean(pathpkg.Dir(clean(path)))
}

func clean(p string) string {
	if p == "" {
		return "/"
	}
	c := pathpkg.Clean(strings.ReplaceAll(p, "\\", "/"))
	if c == "" {
		return "/"
	}
	return c
}

var _ treefs.FS = (*FS)(nil)
