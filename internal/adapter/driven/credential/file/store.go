package file

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pkcs12"
)

const certValidity = 20 * 365 * 24 * time.Hour

// Store hands out the client certificate a signaling user authenticates
// with. It prefers <dir>/<username>.p12 and otherwise uses
// <dir>/<username>.pem, generating a self-signed certificate there the
// first time a username is seen.
type Store struct {
	dir      string
	password string

	mu    sync.Mutex
	cache map[string]tls.Certificate
}

func NewStore(dir, password string) *Store {
	return &Store{dir: dir, password: password, cache: make(map[string]tls.Certificate)}
}

func (s *Store) Certificate(username string) (tls.Certificate, error) {
	if username == "" || strings.ContainsAny(username, `/\`) || username == "." || username == ".." {
		return tls.Certificate{}, fmt.Errorf("invalid username %q for certificate lookup", username)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cert, ok := s.cache[username]; ok {
		return cert, nil
	}

	cert, err := s.load(username)
	if err != nil {
		return tls.Certificate{}, err
	}
	s.cache[username] = cert
	return cert, nil
}

func (s *Store) load(username string) (tls.Certificate, error) {
	p12Path := filepath.Join(s.dir, username+".p12")
	data, err := os.ReadFile(p12Path)
	switch {
	case err == nil:
		return decodePKCS12(data, s.password)
	case !errors.Is(err, os.ErrNotExist):
		return tls.Certificate{}, err
	}

	pemPath := filepath.Join(s.dir, username+".pem")
	cert, err := tls.LoadX509KeyPair(pemPath, pemPath)
	if err == nil {
		return cert, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return tls.Certificate{}, fmt.Errorf("load %s: %w", pemPath, err)
	}

	log.Info().Str("username", username).Str("path", pemPath).Msg("Generating client certificate")
	if err := generate(pemPath, username); err != nil {
		return tls.Certificate{}, err
	}
	return tls.LoadX509KeyPair(pemPath, pemPath)
}

func decodePKCS12(data []byte, password string) (tls.Certificate, error) {
	key, leaf, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decode pkcs12: %w", err)
	}
	return tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

func generate(path, username string) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return err
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: username},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(certValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	out := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	out = append(out, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})...)
	return os.WriteFile(path, out, 0o600)
}
