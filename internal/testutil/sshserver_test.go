package testutil

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func dialTestServer(t *testing.T, s *SSHServer, password string) (*ssh.Client, error) {
	t.Helper()
	return ssh.Dial("tcp", s.Addr(), &ssh.ClientConfig{
		User:            s.User,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	})
}

func TestSSHServer_Exec(t *testing.T) {
	s := NewSSHServer(t)
	client, err := dialTestServer(t, s, s.Password)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer sess.Close()
	if err := sess.Setenv("XFLOW_T", "v1"); err != nil {
		t.Fatalf("setenv: %v", err)
	}
	out, err := sess.CombinedOutput(`echo "$XFLOW_T"; exit 4`)
	var exitErr *ssh.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitStatus() != 4 {
		t.Fatalf("err = %v, want exit status 4", err)
	}
	if strings.TrimSpace(string(out)) != "v1" {
		t.Errorf("output = %q", out)
	}
	if cmds := s.Commands(); len(cmds) != 1 {
		t.Errorf("Commands() = %v", cmds)
	}
}

func TestSSHServer_RejectsBadPassword(t *testing.T) {
	s := NewSSHServer(t)
	if _, err := dialTestServer(t, s, "wrong"); err == nil {
		t.Fatal("dial should fail with a wrong password")
	}
}

func TestSSHServer_KnownHostsLine(t *testing.T) {
	s := NewSSHServer(t)
	line := s.KnownHostsLine()
	if !strings.HasPrefix(line, "[127.0.0.1]:") || !strings.Contains(line, "ssh-ed25519") {
		t.Errorf("KnownHostsLine() = %q", line)
	}
}
