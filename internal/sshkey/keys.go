// Package sshkey manages the local key pair injected into GCE instances
// through the ssh-keys metadata entry.
package sshkey

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// MetadataKey is the instance metadata key Compute Engine reads SSH keys from.
const MetadataKey = "ssh-keys"

const keyName = "cloudfleet_key"

// KeyPair represents an SSH key pair on disk
type KeyPair struct {
	PrivateKeyPath string
	PublicKeyPath  string
	PublicKey      string
}

// GetOrGenerate returns the key pair stored in keyDir, creating it if the
// private key does not exist. A missing public key is derived again.
func GetOrGenerate(keyDir string) (*KeyPair, error) {
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	kp := &KeyPair{
		PrivateKeyPath: filepath.Join(keyDir, keyName),
		PublicKeyPath:  filepath.Join(keyDir, keyName+".pub"),
	}

	pemBytes, err := os.ReadFile(kp.PrivateKeyPath)
	if errors.Is(err, os.ErrNotExist) {
		return kp, kp.generate()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	if pub, err := os.ReadFile(kp.PublicKeyPath); err == nil {
		kp.PublicKey = string(pub)
		return kp, nil
	}
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return kp, kp.writePublic(signer.PublicKey())
}

func (kp *KeyPair) generate() error {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("failed to generate private key: %w", err)
	}
	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}
	if err := os.WriteFile(kp.PrivateKeyPath, pem.EncodeToMemory(block), 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}

	publicKey, err := ssh.NewPublicKey(&privateKey.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to generate public key: %w", err)
	}
	return kp.writePublic(publicKey)
}

func (kp *KeyPair) writePublic(publicKey ssh.PublicKey) error {
	kp.PublicKey = string(ssh.MarshalAuthorizedKey(publicKey))
	if err := os.WriteFile(kp.PublicKeyPath, []byte(kp.PublicKey), 0644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}
	return nil
}

// MetadataValue formats the public key as an ssh-keys entry for user.
func (kp *KeyPair) MetadataValue(user string) string {
	return fmt.Sprintf("%s:%s %s", user, strings.TrimSpace(kp.PublicKey), user)
}

// Fingerprint returns the SHA256 fingerprint of the public key.
func (kp *KeyPair) Fingerprint() (string, error) {
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(kp.PublicKey))
	if err != nil {
		return "", fmt.Errorf("failed to parse public key: %w", err)
	}
	return ssh.FingerprintSHA256(pub), nil
}

// Cleanup removes the key files
func (kp *KeyPair) Cleanup() error {
	if err := os.Remove(kp.PrivateKeyPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove private key: %w", err)
	}
	if err := os.Remove(kp.PublicKeyPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove public key: %w", err)
	}
	return nil
}
