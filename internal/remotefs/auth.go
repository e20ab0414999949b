package remotefs

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/term"
)

var defaultPrivateKeyFiles = []string{
	"id_ed25519",
	"id_ecdsa",
	"id_rsa",
	"id_dsa",
}

// splitUserHost breaks a "user@host" remote target into its two parts.
func splitUserHost(target string) (user, host string, err error) {
	if strings.TrimSpace(target) == "" {
		return "", "", errors.New("remote target is required")
	}
	user, host, ok := strings.Cut(target, "@")
	if !ok || user == "" || host == "" {
		return "", "", errors.Errorf("invalid remote target %q: expected user@host", target)
	}
	return user, host, nil
}

// knownHostsStore is the user's ~/.ssh/known_hosts file, opened for a
// single trust decision.
type knownHostsStore struct {
	path string
}

func openKnownHostsStore() (*knownHostsStore, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, "determining home directory for known_hosts")
	}

	sshDir := filepath.Join(home, ".ssh")
	if err := os.MkdirAll(sshDir, 0o700); err != nil {
		return nil, errors.Wrap(err, "creating ~/.ssh directory")
	}

	path := filepath.Join(sshDir, "known_hosts")
	if _, err := os.Stat(path); stderrors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, nil, 0o600); err != nil {
			return nil, errors.Wrap(err, "creating known_hosts")
		}
	} else if err != nil {
		return nil, errors.Wrap(err, "accessing known_hosts")
	}

	return &knownHostsStore{path: path}, nil
}

// callback builds a TOFU host-key verifier over the store, prompting
// interactively on the first connection to a host unless batchMode is set.
func (s *knownHostsStore) callback(host string, port int, batchMode bool) (ssh.HostKeyCallback, error) {
	verify, err := knownhosts.New(s.path)
	if err != nil {
		return nil, errors.Wrap(err, "loading known_hosts")
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := verify(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if !stderrors.As(err, &keyErr) {
			return errors.Wrap(err, "host key verification failed")
		}

		address := addressLabel(host, port)
		presented := ssh.FingerprintSHA256(key)

		if len(keyErr.Want) == 0 {
			return s.trustUnknown(address, host, port, key, presented, batchMode)
		}
		return s.trustChanged(address, host, port, key, keyErr.Want, presented, batchMode)
	}, nil
}

func (s *knownHostsStore) trustUnknown(address, host string, port int, key ssh.PublicKey, presented string, batchMode bool) error {
	if batchMode {
		return errors.Errorf("unknown host key for %s (%s); run ssh once to trust it or disable batch mode", address, presented)
	}
	ok, err := confirmTrust(
		"The authenticity of host '%s' can't be established.\n%s key fingerprint is %s.\nTrust this host and continue connecting (yes/no)? ",
		address, key.Type(), presented)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("host key for %s was not trusted", address)
	}
	return s.add(host, port, key)
}

func (s *knownHostsStore) trustChanged(address, host string, port int, key ssh.PublicKey, want []knownhosts.KnownKey, presented string, batchMode bool) error {
	expected := make([]string, 0, len(want))
	for _, k := range want {
		expected = append(expected, ssh.FingerprintSHA256(k.Key))
	}

	if batchMode {
		return errors.Errorf("host key mismatch for %s: expected %s, presented %s",
			address, strings.Join(expected, ", "), presented)
	}

	ok, err := confirmTrust(
		"WARNING: HOST KEY CHANGED for '%s'.\nExpected: %s\nPresented: %s\nReplace stored key and continue (yes/no)? ",
		address, strings.Join(expected, ", "), presented)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("host key mismatch for %s", address)
	}
	return s.replace(host, port, key)
}

func (s *knownHostsStore) add(host string, port int, key ssh.PublicKey) error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Wrap(err, "updating known_hosts")
	}
	defer f.Close()

	line := knownhosts.Line([]string{addressLabel(host, port)}, key)
	if _, err := f.WriteString(line + "\n"); err != nil {
		return errors.Wrap(err, "writing known_hosts entry")
	}
	return nil
}

func (s *knownHostsStore) replace(host string, port int, key ssh.PublicKey) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return errors.Wrap(err, "reading known_hosts")
	}

	updated := dropHostEntries(data, host, port)
	if len(updated) > 0 && updated[len(updated)-1] != '\n' {
		updated = append(updated, '\n')
	}
	updated = append(updated, knownhosts.Line([]string{addressLabel(host, port)}, key)...)
	updated = append(updated, '\n')

	if err := os.WriteFile(s.path, updated, 0o600); err != nil {
		return errors.Wrap(err, "writing known_hosts")
	}
	return nil
}

// addressLabel is the known_hosts host token for host:port, omitting the
// bracketed port suffix for the conventional port 22.
func addressLabel(host string, port int) string {
	if port == 22 {
		return host
	}
	return "[" + host + "]:" + strconv.Itoa(port)
}

// dropHostEntries returns data with every known_hosts line naming host:port
// removed, including @-marker lines (matched on the host field after the
// marker), and keeps comments and blank lines untouched.
func dropHostEntries(data []byte, host string, port int) []byte {
	candidates := map[string]bool{host: true, addressLabel(host, port): true}
	if port == 22 {
		candidates["["+host+"]:22"] = true
	}

	lines := strings.Split(string(data), "\n")
	keep := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			keep = append(keep, line)
			continue
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			keep = append(keep, line)
			continue
		}

		hostFieldIdx := 0
		if strings.HasPrefix(fields[0], "@") {
			if len(fields) < 2 {
				keep = append(keep, line)
				continue
			}
			hostFieldIdx = 1
		}

		matched := false
		for _, h := range strings.Split(fields[hostFieldIdx], ",") {
			if candidates[h] {
				matched = true
				break
			}
		}
		if !matched {
			keep = append(keep, line)
		}
	}

	return []byte(strings.Join(keep, "\n"))
}

func confirmTrust(format string, args ...any) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, errors.New("cannot prompt for host key trust: stdin is not a terminal")
	}

	fmt.Fprintf(os.Stderr, format, args...)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil && !stderrors.Is(err, io.EOF) {
		return false, errors.Wrap(err, "host key prompt failed")
	}

	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

// collectAuthMethods assembles every usable SSH auth method for user@host,
// in the order an interactive ssh client would try them: agent, default
// key files, then interactive password/keyboard-interactive prompts.
func collectAuthMethods(user, host string, batchMode bool) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if m := sshAgentMethod(); m != nil {
		methods = append(methods, m)
	}
	if signers := defaultKeySigners(); len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	if !batchMode {
		ia := &interactiveAuth{user: user, host: host}
		methods = append(methods, ssh.PasswordCallback(ia.password), ssh.KeyboardInteractive(ia.answer))
	}

	if len(methods) == 0 {
		if batchMode {
			return nil, errors.New("no SSH auth methods available (configure ssh-agent or private keys, or disable batch mode)")
		}
		return nil, errors.New("no SSH auth methods available")
	}
	return methods, nil
}

func sshAgentMethod() ssh.AuthMethod {
	sock := strings.TrimSpace(os.Getenv("SSH_AUTH_SOCK"))
	if sock == "" {
		return nil
	}

	return ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return nil, err
		}
		defer conn.Close()
		return agent.NewClient(conn).Signers()
	})
}

func defaultKeySigners() []ssh.Signer {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	var signers []ssh.Signer
	for _, name := range defaultPrivateKeyFiles {
		pem, err := os.ReadFile(filepath.Join(home, ".ssh", name))
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			continue // unparsable or passphrase-protected key: skip, don't prompt
		}
		signers = append(signers, signer)
	}
	return signers
}

// interactiveAuth prompts for a password once per session and reuses the
// answer for both the plain-password and keyboard-interactive SSH methods.
type interactiveAuth struct {
	user, host string

	mu     sync.Mutex
	cached string
	asked  bool
}

func (ia *interactiveAuth) password() (string, error) {
	ia.mu.Lock()
	if ia.asked {
		pass := ia.cached
		ia.mu.Unlock()
		return pass, nil
	}
	ia.mu.Unlock()

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("cannot prompt for SSH password: stdin is not a terminal")
	}

	fmt.Fprintf(os.Stderr, "%s@%s's password: ", ia.user, ia.host)
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", errors.Wrap(err, "password prompt failed")
	}

	pass := string(bytes)
	ia.mu.Lock()
	ia.cached = pass
	ia.asked = true
	ia.mu.Unlock()
	return pass, nil
}

func (ia *interactiveAuth) answer(_, _ string, questions []string, echos []bool) ([]string, error) {
	pass, err := ia.password()
	if err != nil {
		return nil, err
	}

	answers := make([]string, len(questions))
	for i := range questions {
		if i < len(echos) && echos[i] {
			continue // echoed prompts aren't the password; leave blank
		}
		answers[i] = pass
	}
	return answers, nil
}
