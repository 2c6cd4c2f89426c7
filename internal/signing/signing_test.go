package signing

import (
	"bytes"
	"crypto/rsa"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litepack/litepack/pkg/types"
)

func testManifest() *types.ArtifactManifest {
	return &types.ArtifactManifest{
		ID:        "5f2b6c1e-9a57-4a51-8c3e-0b1d0f7f5a10",
		Tool:      "litepack",
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Artifacts: []types.Artifact{
			{
				Role:   types.RoleAnnotatedModel,
				Path:   "food_classifier_with_metadata.tflite",
				Size:   1024,
				Digest: digest.FromString("model"),
			},
		},
		Normalization: types.Normalization{Mean: []float64{127.5}, Std: []float64{127.5}},
		Labels:        101,
	}
}

func TestGenerateKeyPair(t *testing.T) {
	keyPair, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.NotNil(t, keyPair.PrivateKey)
	assert.NotNil(t, keyPair.PublicKey)
	assert.Equal(t, keyBits, keyPair.PrivateKey.Size()*8)
	assert.Equal(t, &keyPair.PrivateKey.PublicKey, keyPair.PublicKey)

	fp, err := keyPair.Fingerprint()
	require.NoError(t, err)
	assert.NoError(t, fp.Validate())
}

func TestSaveAndLoadKeyPair(t *testing.T) {
	tempDir := t.TempDir()
	privateKeyPath, publicKeyPath := KeyPaths(tempDir)

	keyPair, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, keyPair.Save(privateKeyPath, publicKeyPath))

	assert.FileExists(t, privateKeyPath)
	assert.FileExists(t, publicKeyPath)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(privateKeyPath)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	loadedPrivateKey, err := LoadPrivateKey(privateKeyPath)
	require.NoError(t, err)
	assert.Equal(t, keyPair.PrivateKey.D, loadedPrivateKey.D)
	assert.Equal(t, keyPair.PrivateKey.N, loadedPrivateKey.N)

	loadedPublicKey, err := LoadPublicKey(publicKeyPath)
	require.NoError(t, err)
	assert.Equal(t, keyPair.PublicKey.N, loadedPublicKey.N)
	assert.Equal(t, keyPair.PublicKey.E, loadedPublicKey.E)
}

func TestLoadPrivateKeyErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func() string
		wantErr string
	}{
		{
			name: "file not found",
			setup: func() string {
				return filepath.Join(t.TempDir(), "private.pem")
			},
			wantErr: "failed to read private key",
		},
		{
			name: "invalid PEM format",
			setup: func() string {
				tempFile := filepath.Join(t.TempDir(), "invalid.pem")
				os.WriteFile(tempFile, []byte("not a pem file"), 0644)
				return tempFile
			},
			wantErr: "failed to parse PEM block",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadPrivateKey(tt.setup())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadPublicKeyErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func() string
		wantErr string
	}{
		{
			name: "file not found",
			setup: func() string {
				return filepath.Join(t.TempDir(), "public.pem")
			},
			wantErr: "failed to read public key",
		},
		{
			name: "invalid PEM format",
			setup: func() string {
				tempFile := filepath.Join(t.TempDir(), "invalid.pem")
				os.WriteFile(tempFile, []byte("not a pem file"), 0644)
				return tempFile
			},
			wantErr: "failed to parse PEM block",
		},
		{
			name: "truncated key",
			setup: func() string {
				tempFile := filepath.Join(t.TempDir(), "truncated.pem")
				content := "-----BEGIN PUBLIC KEY-----\nMFkwEwYHKoZIzj0CAQYIKoZIzj0DAQcDQgAE\n-----END PUBLIC KEY-----\n"
				os.WriteFile(tempFile, []byte(content), 0644)
				return tempFile
			},
			wantErr: "failed to parse public key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadPublicKey(tt.setup())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSignAndVerifyManifest(t *testing.T) {
	keyPair, err := GenerateKeyPair()
	require.NoError(t, err)

	manifest := testManifest()
	require.NoError(t, SignManifest(manifest, keyPair.PrivateKey))
	assert.NotEmpty(t, manifest.Signature)

	assert.NoError(t, VerifyManifest(manifest, keyPair.PublicKey))

	// re-signing a signed manifest still verifies
	require.NoError(t, SignManifest(manifest, keyPair.PrivateKey))
	assert.NoError(t, VerifyManifest(manifest, keyPair.PublicKey))
}

func TestVerifyManifestErrors(t *testing.T) {
	keyPair, err := GenerateKeyPair()
	require.NoError(t, err)
	wrongKeyPair, err := GenerateKeyPair()
	require.NoError(t, err)

	tests := []struct {
		name    string
		setup   func(m *types.ArtifactManifest)
		key     *rsa.PublicKey
		wantErr string
	}{
		{
			name:    "unsigned manifest",
			setup:   func(m *types.ArtifactManifest) {},
			key:     keyPair.PublicKey,
			wantErr: "manifest is not signed",
		},
		{
			name: "invalid base64 signature",
			setup: func(m *types.ArtifactManifest) {
				m.Signature = "not-valid-base64!"
			},
			key:     keyPair.PublicKey,
			wantErr: "failed to decode signature",
		},
		{
			name: "wrong public key",
			setup: func(m *types.ArtifactManifest) {
				SignManifest(m, keyPair.PrivateKey)
			},
			key:     wrongKeyPair.PublicKey,
			wantErr: "signature verification failed",
		},
		{
			name: "tampered artifact digest",
			setup: func(m *types.ArtifactManifest) {
				SignManifest(m, keyPair.PrivateKey)
				m.Artifacts[0].Digest = digest.FromString("other model")
			},
			key:     keyPair.PublicKey,
			wantErr: "signature verification failed",
		},
		{
			name: "tampered normalization",
			setup: func(m *types.ArtifactManifest) {
				SignManifest(m, keyPair.PrivateKey)
				m.Normalization.Mean = []float64{0}
			},
			key:     keyPair.PublicKey,
			wantErr: "signature verification failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manifest := testManifest()
			tt.setup(manifest)
			err := VerifyManifest(manifest, tt.key)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetOrCreateKeys(t *testing.T) {
	keysDir := filepath.Join(t.TempDir(), "keys")

	var out bytes.Buffer
	keyPair1, err := GetOrCreateKeys(keysDir, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Generating new signing keys...")
	assert.Contains(t, out.String(), "Keys saved to: "+keysDir)

	assert.DirExists(t, keysDir)
	assert.FileExists(t, filepath.Join(keysDir, "private.pem"))
	assert.FileExists(t, filepath.Join(keysDir, "public.pem"))

	// Second call loads the existing keys
	out.Reset()
	keyPair2, err := GetOrCreateKeys(keysDir, &out)
	require.NoError(t, err)
	assert.Empty(t, out.String())
	assert.Equal(t, keyPair1.PrivateKey.N, keyPair2.PrivateKey.N)
	assert.Equal(t, keyPair1.PrivateKey.D, keyPair2.PrivateKey.D)

	pub, err := LoadPublicKeyFromDir(keysDir)
	require.NoError(t, err)
	assert.Equal(t, keyPair1.PublicKey.N, pub.N)
}

func TestLoadPublicKeyFromDirMissing(t *testing.T) {
	_, err := LoadPublicKeyFromDir(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKeysNotFound))
}

func BenchmarkSignManifest(b *testing.B) {
	keyPair, _ := GenerateKeyPair()
	manifest := testManifest()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := SignManifest(manifest, keyPair.PrivateKey); err != nil {
			b.Fatal(err)
		}
	}
}
