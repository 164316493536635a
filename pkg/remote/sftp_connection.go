package remote

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/term"
)

// Connection holds an active SSH connection shared by a pool of SFTP clients.
type Connection struct {
	sshClient *ssh.Client
	host      string
	port      int
	user      string
}

// Connect establishes an SSH connection to the remote host. Authentication is
// tried in priority order: SSH agent, default key files, and finally an
// interactive password prompt when stdin is a terminal.
func Connect(host string, port int, user string) (*Connection, error) {
	authMethods := getSSHAuthMethods(user, host)
	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no SSH authentication methods available (tried SSH agent, default keys, password prompt)")
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: Add proper host key verification
	}

	addr := fmt.Sprintf("%s:%d", host, port)

	sshClient, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("SSH connection failed: %w", err)
	}

	return &Connection{
		sshClient: sshClient,
		host:      host,
		port:      port,
		user:      user,
	}, nil
}

// Close closes the SSH connection.
func (c *Connection) Close() error {
	if c.sshClient != nil {
		return c.sshClient.Close()
	}

	return nil
}

// SSHClient returns the underlying SSH client.
func (c *Connection) SSHClient() *ssh.Client {
	return c.sshClient
}

// NewSFTPClient opens a new SFTP session over the connection.
func (c *Connection) NewSFTPClient() (*sftp.Client, error) {
	client, err := sftp.NewClient(c.sshClient)
	if err != nil {
		return nil, fmt.Errorf("SFTP session creation failed: %w", err)
	}

	return client, nil
}

// getSSHAuthMethods returns SSH authentication methods in priority order:
// 1. SSH agent
// 2. Default SSH keys
// 3. Interactive password prompt (when attached to a terminal)
func getSSHAuthMethods(user, host string) []ssh.AuthMethod {
	var authMethods []ssh.AuthMethod

	if agentAuth := trySSHAgent(); agentAuth != nil {
		authMethods = append(authMethods, agentAuth)
	}

	if keyAuths := tryDefaultSSHKeys(); len(keyAuths) > 0 {
		authMethods = append(authMethods, keyAuths...)
	}

	if term.IsTerminal(int(syscall.Stdin)) {
		authMethods = append(authMethods, ssh.PasswordCallback(func() (string, error) {
			fmt.Fprintf(os.Stderr, "%s@%s password: ", user, host)

			password, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Fprintln(os.Stderr)

			if err != nil {
				return "", fmt.Errorf("failed to read password: %w", err)
			}

			return string(password), nil
		}))
	}

	return authMethods
}

// trySSHAgent attempts to connect to the SSH agent.
func trySSHAgent() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil
	}

	agentClient := agent.NewClient(conn)

	return ssh.PublicKeysCallback(agentClient.Signers)
}

// tryDefaultSSHKeys tries to load SSH keys from default locations.
func tryDefaultSSHKeys() []ssh.AuthMethod {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	sshDir := filepath.Join(homeDir, ".ssh")

	// Default key files to try (in order)
	keyFiles := []string{
		filepath.Join(sshDir, "id_ed25519"),
		filepath.Join(sshDir, "id_rsa"),
		filepath.Join(sshDir, "id_ecdsa"),
	}

	var authMethods []ssh.AuthMethod

	for _, keyPath := range keyFiles {
		keyData, err := os.ReadFile(keyPath) // #nosec G304 - fixed set of well-known key paths
		if err != nil {
			continue
		}

		// Encrypted keys are skipped; the password prompt fallback covers them.
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			continue
		}

		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	return authMethods
}
