// Package proxyconf renders the reverse proxy configuration for a session.
package proxyconf

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"text/template"
)

// FileName is the generated config inside the data directory.
const FileName = "Caddyfile"

// Params are the values the proxy config depends on.
type Params struct {
	ExternalPort int    // port the proxy listens on with TLS
	ServiceHost  string // upstream host, normally 127.0.0.1
	ServicePort  int    // fixed internal port of the service
	CertPath     string
	KeyPath      string
}

func (p Params) validate() error {
	switch {
	case p.ExternalPort <= 0 || p.ExternalPort > 65535:
		return fmt.Errorf("invalid external port %d", p.ExternalPort)
	case p.ServicePort <= 0 || p.ServicePort > 65535:
		return fmt.Errorf("invalid service port %d", p.ServicePort)
	case p.ExternalPort == p.ServicePort:
		return fmt.Errorf("external port %d collides with service port", p.ExternalPort)
	case p.CertPath == "" || p.KeyPath == "":
		return errors.New("certificate and key paths are required")
	}
	return nil
}

var caddyfile = template.Must(template.New(FileName).Parse(`# Generated by shieldserve on every start; edits are overwritten.
{
	admin off
	auto_https disable_redirects
	persist_config off
}

https://:{{.ExternalPort}} {
	tls {{printf "%q" .CertPath}} {{printf "%q" .KeyPath}}
	encode gzip
	reverse_proxy {{.ServiceHost}}:{{.ServicePort}}
}
`))

// Render returns the config text for p.
func Render(p Params) ([]byte, error) {
	if p.ServiceHost == "" {
		p.ServiceHost = "127.0.0.1"
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := caddyfile.Execute(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Path returns the config location under dir.
func Path(dir string) string { return filepath.Join(dir, FileName) }

// Write renders p and replaces the config under dir, returning its path.
func Write(dir string, p Params) (string, error) {
	b, err := Render(p)
	if err != nil {
		return "", err
	}
	path := Path(dir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return path, nil
}

// Remove deletes the generated config under dir. A missing file is fine.
func Remove(dir string) error {
	if err := os.Remove(Path(dir)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
