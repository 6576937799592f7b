package supervision

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// Dispatcher executes a corrective script on a compute node.
type Dispatcher interface {
	Dispatch(ctx context.Context, login, machine, script string) error
}

// SSHDispatcher runs the script over an SSH session, piping it to a
// remote shell under the simulation owner's login.
type SSHDispatcher struct {
	keyFile string
	port    int
	timeout time.Duration
}

// NewSSHDispatcher builds a dispatcher authenticating with the given
// private key.
func NewSSHDispatcher(keyFile string, port int) *SSHDispatcher {
	return &SSHDispatcher{keyFile: keyFile, port: port, timeout: 15 * time.Second}
}

// Dispatch implements Dispatcher.
func (d *SSHDispatcher) Dispatch(ctx context.Context, login, machine, script string) error {
	key, err := os.ReadFile(d.keyFile)
	if err != nil {
		return fmt.Errorf("supervision: read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return fmt.Errorf("supervision: parse ssh key: %w", err)
	}

	config := &ssh.ClientConfig{
		User:            login,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.timeout,
	}

	addr := net.JoinHostPort(machine, strconv.Itoa(d.port))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return fmt.Errorf("supervision: dial %s@%s: %w", login, addr, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("supervision: open session on %s: %w", machine, err)
	}
	defer session.Close()

	var stderr bytes.Buffer
	session.Stdin = strings.NewReader(script)
	session.Stderr = &stderr

	if err := session.Run("/bin/bash -s"); err != nil {
		return fmt.Errorf("supervision: remote script on %s: %w: %s",
			machine, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
