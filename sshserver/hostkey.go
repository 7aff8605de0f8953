package sshserver

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"pkt.systems/pslog"
)

const hostKeyComment = "termbridge"

// EnsureHostKey loads the ed25519 host key at path, generating it on first
// use. The fingerprint is logged so operators can pin it on terminal clients.
func EnsureHostKey(log pslog.Logger, path string) (ssh.Signer, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("ssh host key path is required")
	}
	info, err := os.Stat(path)
	switch {
	case err == nil:
		signer, err := readHostKey(path)
		if err != nil {
			return nil, err
		}
		if perm := info.Mode().Perm(); perm&0o077 != 0 && log != nil {
			log.Warn("ssh host key permissions too open", "path", path, "mode", fmt.Sprintf("%#o", perm))
		}
		logHostKey(log, "ssh host key loaded", path, signer)
		return signer, nil
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("stat host key: %w", err)
	}

	signer, err := generateHostKey(path)
	if err != nil {
		return nil, err
	}
	logHostKey(log, "ssh host key generated", path, signer)
	return signer, nil
}

func generateHostKey(path string) (ssh.Signer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create host key dir: %w", err)
	}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, hostKeyComment)
	if err != nil {
		return nil, fmt.Errorf("marshal host key: %w", err)
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			// Another process created it first.
			return readHostKey(path)
		}
		return nil, fmt.Errorf("write host key: %w", err)
	}
	if err := pem.Encode(file, block); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("encode host key: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("close host key: %w", err)
	}
	return ssh.NewSignerFromKey(priv)
}

func readHostKey(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read host key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse host key %s: %w", path, err)
	}
	return signer, nil
}

func logHostKey(log pslog.Logger, msg, path string, signer ssh.Signer) {
	if log == nil {
		return
	}
	log.Info(msg,
		"path", path,
		"type", signer.PublicKey().Type(),
		"fingerprint", ssh.FingerprintSHA256(signer.PublicKey()),
	)
}
