// Package setup bootstraps a fresh installation: it creates the first admin
// account interactively and generates a self-signed TLS certificate when the
// configuration points at one that does not exist yet.
package setup

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/term"

	"cloudcrate/internal/account"
	"cloudcrate/internal/auth"
	"cloudcrate/internal/config"
	"cloudcrate/internal/db"
	"cloudcrate/internal/quota"
)

type Options struct {
	Email string
	Name  string
}

func Run(ctx context.Context, cfg config.Config, opt Options) error {
	if opt.Email == "" {
		return errors.New("admin email is required")
	}
	name := opt.Name
	if name == "" {
		name = "Admin"
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DB.Path), 0o700); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return err
	}

	d, err := db.Open(ctx, cfg.DB.Path)
	if err != nil {
		return err
	}
	defer d.Close()
	_ = os.Chmod(cfg.DB.Path, 0o600)

	password, err := promptPassword("Set admin password")
	if err != nil {
		return err
	}

	sup := &account.Supervisor{
		DB:           d,
		Ledger:       &quota.Ledger{Store: d},
		Fs:           afero.NewOsFs(),
		DataDir:      cfg.Storage.DataDir,
		DefaultLimit: cfg.Storage.DefaultLimit,
		Argon2: auth.Argon2Params{
			Memory:      cfg.Auth.Argon2Memory,
			Iterations:  cfg.Auth.Argon2Time,
			Parallelism: cfg.Auth.Argon2Threads,
			SaltLen:     16,
			KeyLen:      32,
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	acc, err := sup.Register(ctx, account.RegisterParams{
		Email:    opt.Email,
		Name:     name,
		Password: password,
		Admin:    true,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "created admin account %s (root %s)\n", acc.Email, acc.RootPath)

	if cfg.HTTP.TLS.CertPath != "" {
		if err := ensureTLSCert(cfg.HTTP.TLS.CertPath, cfg.HTTP.TLS.KeyPath); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "tls certificate ready at %s\n", cfg.HTTP.TLS.CertPath)
	}
	return nil
}

func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		for {
			fmt.Fprintf(os.Stderr, "%s: ", label)
			p1b, err := term.ReadPassword(fd)
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return "", err
			}
			fmt.Fprint(os.Stderr, "Confirm password: ")
			p2b, err := term.ReadPassword(fd)
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return "", err
			}
			p1 := strings.TrimSpace(string(p1b))
			p2 := strings.TrimSpace(string(p2b))
			if p1 == "" {
				fmt.Fprintln(os.Stderr, "password cannot be empty")
				continue
			}
			if p1 != p2 {
				fmt.Fprintln(os.Stderr, "passwords do not match")
				continue
			}
			return p1, nil
		}
	}

	// Non-interactive fallback (e.g. piped input). Echo suppression isn't possible.
	r := bufio.NewReader(os.Stdin)
	for {
		fmt.Fprintf(os.Stderr, "%s: ", label)
		p1, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		fmt.Fprint(os.Stderr, "Confirm password: ")
		p2, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		p1 = strings.TrimSpace(p1)
		p2 = strings.TrimSpace(p2)
		if p1 == "" {
			fmt.Fprintln(os.Stderr, "password cannot be empty")
			continue
		}
		if p1 != p2 {
			fmt.Fprintln(os.Stderr, "passwords do not match")
			continue
		}
		return p1, nil
	}
}

func ensureTLSCert(certPath, keyPath string) error {
	if fileExists(certPath) && fileExists(keyPath) {
		_, err := tls.LoadX509KeyPair(certPath, keyPath)
		return err
	}

	if err := os.MkdirAll(filepath.Dir(certPath), 0o700); err != nil {
		return err
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return err
	}

	tmpl := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: "cloudcrate",
		},
		NotBefore:             time.Now().Add(-5 * time.Minute),
		NotAfter:              time.Now().Add(3650 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, pub, priv)
	if err != nil {
		return err
	}
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		return err
	}

	b, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return err
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: b}), 0o600); err != nil {
		return err
	}

	_, err = tls.LoadX509KeyPair(certPath, keyPath)
	return err
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
