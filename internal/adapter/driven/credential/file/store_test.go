package file

import (
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreGeneratesAndReusesCertificate(t *testing.T) {
	dir := t.TempDir()

	first, err := NewStore(dir, "").Certificate("alice")
	require.NoError(t, err)
	require.Len(t, first.Certificate, 1)
	assert.FileExists(t, filepath.Join(dir, "alice.pem"))

	leaf, err := x509.ParseCertificate(first.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, "alice", leaf.Subject.CommonName)

	// a fresh store reads the persisted file instead of generating again
	second, err := NewStore(dir, "").Certificate("alice")
	require.NoError(t, err)
	assert.Equal(t, first.Certificate[0], second.Certificate[0])

	other, err := NewStore(dir, "").Certificate("bob")
	require.NoError(t, err)
	assert.NotEqual(t, first.Certificate[0], other.Certificate[0])
}

func TestStoreRejectsPathUsernames(t *testing.T) {
	s := NewStore(t.TempDir(), "")
	for _, name := range []string{"", "..", "../etc/passwd", `a\b`} {
		_, err := s.Certificate(name)
		assert.Error(t, err, name)
	}
}

func TestStoreReportsCorruptPKCS12(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "carol.p12"), []byte("not a pfx"), 0o600))

	_, err := NewStore(dir, "secret").Certificate("carol")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pkcs12")
}
