// Package tlscert provides the relay's server certificate: load a persisted
// key pair from disk if present, else generate a self-signed one and persist
// it for next startup.
package tlscert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

const (
	certFileName = "x509-server.pem"
	keyFileName  = "x509-server-key.pem"
)

// generated holds one freshly minted key pair plus its fingerprint.
type generated struct {
	certDER     []byte
	keyDER      []byte
	tlsConfig   *tls.Config
	fingerprint string
}

func generate(validity time.Duration, hostname string) (generated, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return generated{}, fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return generated{}, fmt.Errorf("generate serial: %w", err)
	}

	cn := "zway-relay"
	if hostname != "" {
		cn = hostname
	}
	sans := []string{"localhost"}
	if hostname != "" && hostname != "localhost" {
		sans = append(sans, hostname)
	}

	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(validity),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              sans,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return generated{}, fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return generated{}, fmt.Errorf("parse certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return generated{}, fmt.Errorf("marshal key: %w", err)
	}

	fp := sha256.Sum256(certDER)
	tlsCert := tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
		Leaf:        cert,
	}
	return generated{
		certDER:     certDER,
		keyDER:      keyDER,
		tlsConfig:   &tls.Config{Certificates: []tls.Certificate{tlsCert}},
		fingerprint: hex.EncodeToString(fp[:]),
	}, nil
}

func persist(dir string, g generated) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cert directory: %w", err)
	}
	certOut := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: g.certDER})
	keyOut := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: g.keyDER})
	if err := os.WriteFile(filepath.Join(dir, certFileName), certOut, 0o644); err != nil {
		return fmt.Errorf("write cert file: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, keyFileName), keyOut, 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

// GenerateSelfSigned creates a fresh self-signed certificate for hostname,
// valid for validity, without touching disk. Returns the tls.Config and its
// SHA-256 fingerprint (hex).
func GenerateSelfSigned(validity time.Duration, hostname string) (*tls.Config, string, error) {
	g, err := generate(validity, hostname)
	if err != nil {
		return nil, "", err
	}
	return g.tlsConfig, g.fingerprint, nil
}

// LoadOrGenerate loads a persisted key pair from dir if both files exist;
// otherwise it generates a fresh self-signed certificate for hostname and
// persists it to dir for the next startup.
func LoadOrGenerate(dir string, validity time.Duration, hostname string) (*tls.Config, error) {
	certPath := filepath.Join(dir, certFileName)
	keyPath := filepath.Join(dir, keyFileName)

	if _, err := os.Stat(certPath); err == nil {
		if _, err := os.Stat(keyPath); err == nil {
			cert, err := tls.LoadX509KeyPair(certPath, keyPath)
			if err != nil {
				return nil, fmt.Errorf("load persisted cert: %w", err)
			}
			slog.Info("tls certificate loaded from disk", "dir", dir)
			return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
		}
	}

	g, err := generate(validity, hostname)
	if err != nil {
		return nil, err
	}
	if err := persist(dir, g); err != nil {
		return nil, err
	}
	slog.Info("tls certificate generated", "fingerprint", g.fingerprint, "dir", dir)
	return g.tlsConfig, nil
}
