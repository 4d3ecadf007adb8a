// Package certs loads TLS key pairs for the HTTP server.
package certs

import (
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

var ErrDomainNotFound = errors.New("domain not found in traefik certificates")

type Source struct {
	CertFile string
	KeyFile  string

	// Traefik acme.json store. Used if CertFile is empty.
	TraefikFile   string
	TraefikDomain string
}

func (s Source) Configured() bool {
	return s.CertFile != "" || s.TraefikFile != ""
}

// Load reads the key pair from the configured source.
func (s Source) Load() (tls.Certificate, error) {
	switch {
	case s.CertFile != "":
		return tls.LoadX509KeyPair(s.CertFile, s.KeyFile)
	case s.TraefikFile != "":
		return FromTraefikFile(s.TraefikFile, s.TraefikDomain)
	default:
		return tls.Certificate{}, errors.New("no certificate configured")
	}
}

// Files lists the files the key pair is read from.
func (s Source) Files() []string {
	if s.CertFile != "" {
		return []string{s.CertFile, s.KeyFile}
	}
	if s.TraefikFile != "" {
		return []string{s.TraefikFile}
	}
	return nil
}

// TLSConfig returns a server config for the configured source.
func (s Source) TLSConfig() (*tls.Config, error) {
	cert, err := s.Load()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func FromTraefikFile(file, domain string) (tls.Certificate, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("reading traefik store: %w", err)
	}
	return FromTraefik(string(data), domain)
}

// FromTraefik extracts the key pair for domain from a traefik acme store.
func FromTraefik(jsonData, domain string) (tls.Certificate, error) {
	certData, keyData, err := traefikEntry(jsonData, domain)
	if err != nil {
		return tls.Certificate{}, err
	}
	certPEM, err := base64.StdEncoding.DecodeString(certData)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decoding certificate: %w", err)
	}
	keyPEM, err := base64.StdEncoding.DecodeString(keyData)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decoding key: %w", err)
	}
	return tls.X509KeyPair(certPEM, keyPEM)
}

type traefikCert struct {
	Certificate string `json:"certificate"`
	Key         string `json:"key"`
}

func traefikEntry(jsonData, domain string) (cert, key string, err error) {
	obj, err := oj.ParseString(jsonData)
	if err != nil {
		return "", "", err
	}
	path, err := jp.ParseString(
		fmt.Sprintf(`$..Certificates[?(@.domain.main == %q)]`, domain))
	if err != nil {
		return "", "", err
	}
	res := path.Get(obj)
	if len(res) == 0 {
		return "", "", fmt.Errorf("%w: %s", ErrDomainNotFound, domain)
	}
	entry := traefikCert{}
	if err = oj.Unmarshal([]byte(oj.JSON(res[0])), &entry); err != nil {
		return "", "", err
	}
	return entry.Certificate, entry.Key, nil
}
