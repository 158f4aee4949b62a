package tls

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	DirName  = "certs"
	certName = "cert.pem"
	keyName  = "key.pem"

	defaultValidity = 825 * 24 * time.Hour
)

// CertConfig holds configuration for certificate generation
type CertConfig struct {
	CommonName   string
	Organization string
	DNSNames     []string
	IPAddresses  []string
	NotAfter     time.Time
	CertPath     string
	KeyPath      string
}

// Pair locates a key/certificate pair on disk.
type Pair struct {
	CertPath string
	KeyPath  string
}

// PairIn returns the pair locations under dataDir.
func PairIn(dataDir string) Pair {
	dir := filepath.Join(dataDir, DirName)
	return Pair{CertPath: filepath.Join(dir, certName), KeyPath: filepath.Join(dir, keyName)}
}

// Exists reports whether both files are present.
func (p Pair) Exists() bool {
	return fileExists(p.CertPath) && fileExists(p.KeyPath)
}

// Ensure generates a self-signed pair for hosts under dataDir unless one is
// already there. It reports whether a new pair was written.
func Ensure(dataDir string, hosts Hosts) (Pair, bool, error) {
	p := PairIn(dataDir)
	if p.Exists() {
		return p, false, nil
	}
	if err := os.MkdirAll(filepath.Dir(p.CertPath), 0o700); err != nil {
		return p, false, fmt.Errorf("failed to create certificate directory: %w", err)
	}
	cfg := CertConfig{
		CommonName:   hosts.CommonName(),
		Organization: "shieldserve",
		DNSNames:     hosts.DNSNames,
		IPAddresses:  hosts.IPStrings(),
		NotAfter:     time.Now().Add(defaultValidity),
		CertPath:     p.CertPath,
		KeyPath:      p.KeyPath,
	}
	if err := GenerateSelfSignedCert(cfg); err != nil {
		return p, false, err
	}
	return p, true, nil
}

// Load parses the certificate of p.
func Load(p Pair) (*x509.Certificate, error) {
	b, err := os.ReadFile(p.CertPath)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(b)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("no certificate PEM block in " + p.CertPath)
	}
	return x509.ParseCertificate(block.Bytes)
}

// GenerateSelfSignedCert generates a self-signed certificate and private key
func GenerateSelfSignedCert(config CertConfig) error {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("failed to generate private key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   config.CommonName,
			Organization: []string{config.Organization},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              config.NotAfter,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              config.DNSNames,
	}

	for _, ipStr := range config.IPAddresses {
		if ip := net.ParseIP(ipStr); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return fmt.Errorf("failed to create certificate: %w", err)
	}

	privateKeyDER, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}

	// Key first: a certificate without its key is never left behind as a
	// complete-looking pair.
	if err := writePEM(config.KeyPath, "PRIVATE KEY", privateKeyDER, 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := writePEM(config.CertPath, "CERTIFICATE", certDER, 0o644); err != nil {
		_ = os.Remove(config.KeyPath)
		return fmt.Errorf("failed to write certificate: %w", err)
	}
	return nil
}

func writePEM(path, typ string, der []byte, perm os.FileMode) (err error) {
	// #nosec G304
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return pem.Encode(f, &pem.Block{Type: typ, Bytes: der})
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
