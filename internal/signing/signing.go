package signing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"

	"github.com/litepack/litepack/pkg/types"
)

const (
	privateKeyFile = "private.pem"
	publicKeyFile  = "public.pem"
	keyBits        = 2048
)

var (
	ErrNotSigned    = errors.New("manifest is not signed")
	ErrKeysNotFound = errors.New("signing keys not found")
)

// KeyPair manages signing keys
type KeyPair struct {
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
}

// GenerateKeyPair creates a new RSA key pair
func GenerateKeyPair() (*KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	return &KeyPair{
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
	}, nil
}

// Save writes the key pair as PEM files. The private key is only readable
// by the owner.
func (kp *KeyPair) Save(privateKeyPath, publicKeyPath string) error {
	privateKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(kp.PrivateKey),
	})
	if err := os.WriteFile(privateKeyPath, privateKeyPEM, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}

	publicKeyBytes, err := x509.MarshalPKIXPublicKey(kp.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to marshal public key: %w", err)
	}
	publicKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicKeyBytes,
	})
	if err := os.WriteFile(publicKeyPath, publicKeyPEM, 0644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}

	return nil
}

// Fingerprint identifies the public key
func (kp *KeyPair) Fingerprint() (digest.Digest, error) {
	der, err := x509.MarshalPKIXPublicKey(kp.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return digest.FromBytes(der), nil
}

// LoadPrivateKey loads a private key from file
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return key, nil
}

// LoadPublicKey loads a public key from file
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}

	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}

	return rsaKey, nil
}

// manifestHash returns the raw sha256 of the manifest without its signature
func manifestHash(manifest *types.ArtifactManifest) ([]byte, error) {
	d, err := manifest.ComputeHash()
	if err != nil {
		return nil, fmt.Errorf("failed to hash manifest: %w", err)
	}
	if d.Algorithm() != digest.SHA256 {
		return nil, fmt.Errorf("unexpected manifest digest algorithm %s", d.Algorithm())
	}
	return hex.DecodeString(d.Encoded())
}

// SignManifest signs an artifact manifest with a private key
func SignManifest(manifest *types.ArtifactManifest, privateKey *rsa.PrivateKey) error {
	hash, err := manifestHash(manifest)
	if err != nil {
		return err
	}

	signature, err := rsa.SignPKCS1v15(rand.Reader, privateKey, crypto.SHA256, hash)
	if err != nil {
		return fmt.Errorf("failed to sign manifest: %w", err)
	}

	manifest.Signature = base64.StdEncoding.EncodeToString(signature)
	return nil
}

// VerifyManifest verifies a manifest signature with a public key
func VerifyManifest(manifest *types.ArtifactManifest, publicKey *rsa.PublicKey) error {
	if manifest.Signature == "" {
		return ErrNotSigned
	}

	signature, err := base64.StdEncoding.DecodeString(manifest.Signature)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", err)
	}

	hash, err := manifestHash(manifest)
	if err != nil {
		return err
	}

	if err := rsa.VerifyPKCS1v15(publicKey, crypto.SHA256, hash, signature); err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}

	return nil
}

// KeyPaths returns the private and public key locations in keysDir
func KeyPaths(keysDir string) (privateKeyPath, publicKeyPath string) {
	return filepath.Join(keysDir, privateKeyFile), filepath.Join(keysDir, publicKeyFile)
}

// LoadPublicKeyFromDir loads the public key kept in keysDir
func LoadPublicKeyFromDir(keysDir string) (*rsa.PublicKey, error) {
	_, publicKeyPath := KeyPaths(keysDir)
	if _, err := os.Stat(publicKeyPath); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w in %s", ErrKeysNotFound, keysDir)
	}
	return LoadPublicKey(publicKeyPath)
}

// GetOrCreateKeys loads the key pair from keysDir, generating and saving a
// new one when none exists. Progress is reported to out.
func GetOrCreateKeys(keysDir string, out io.Writer) (*KeyPair, error) {
	if err := os.MkdirAll(keysDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keys directory: %w", err)
	}

	privateKeyPath, publicKeyPath := KeyPaths(keysDir)

	if _, err := os.Stat(privateKeyPath); err == nil {
		privateKey, err := LoadPrivateKey(privateKeyPath)
		if err != nil {
			return nil, err
		}
		return &KeyPair{
			PrivateKey: privateKey,
			PublicKey:  &privateKey.PublicKey,
		}, nil
	}

	fmt.Fprintln(out, "Generating new signing keys...")
	keyPair, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	if err := keyPair.Save(privateKeyPath, publicKeyPath); err != nil {
		return nil, err
	}

	fmt.Fprintf(out, "Keys saved to: %s\n", keysDir)
	return keyPair, nil
}
