package config

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// Config is the full set of knobs a replsend process starts from: the
// control-protocol listener, the storage directory, mTLS material, and
// replication tunables. Of the tunables, only Compress and
// CompressCodec are read at startup (they choose the codec every job
// uses); HeartbeatSeconds, MaxPackageSize, MinPackageSize and
// SnapshotBacklogFactor are stored in the file but not read, and jobs
// use the replication package defaults for them.
type Config struct {
	ListenAddr  string `json:"listen_addr"`
	MetricsAddr string `json:"metrics_addr"`
	DataDir     string `json:"data_dir"`
	Debug       bool   `json:"debug"`
	MaxConns    int    `json:"max_conns"`

	TLSCertFile       string `json:"tls_cert_file"`
	TLSKeyFile        string `json:"tls_key_file"`
	TLSCAFile         string `json:"tls_ca_file"`
	TLSClientCertFile string `json:"tls_client_cert_file"`
	TLSClientKeyFile  string `json:"tls_client_key_file"`

	Compress              bool   `json:"compress"`
	CompressCodec         string `json:"compress_codec"`
	HeartbeatSeconds      int    `json:"heartbeat_seconds"`
	MaxPackageSize        int    `json:"max_package_size"`
	MinPackageSize        int    `json:"min_package_size"`
	SnapshotBacklogFactor int    `json:"snapshot_backlog_factor"`
}

// Default returns the configuration a freshly generated config file
// carries.
func Default() Config {
	return Config{
		ListenAddr:            ":6380",
		MetricsAddr:           ":9101",
		DataDir:               "data",
		MaxConns:              100,
		TLSCertFile:           "certs/server.crt",
		TLSKeyFile:            "certs/server.key",
		TLSCAFile:             "certs/ca.crt",
		TLSClientCertFile:     "certs/client.crt",
		TLSClientKeyFile:      "certs/client.key",
		Compress:              true,
		CompressCodec:         "snappy",
		HeartbeatSeconds:      5,
		MaxPackageSize:        512 * 1024,
		MinPackageSize:        128 * 1024,
		SnapshotBacklogFactor: 3,
	}
}

// Load reads and parses a JSON config file.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// ResolvePath returns an absolute path relative to the home directory if strictly necessary.
func ResolvePath(homeDir, path string) string {
	if path == "" {
		return homeDir
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(homeDir, path)
}

// ValidateSecurityConfig ensures that critical security parameters are present.
func ValidateSecurityConfig(cfg Config) error {
	if cfg.TLSCertFile == "" || cfg.TLSKeyFile == "" || cfg.TLSCAFile == "" {
		return fmt.Errorf("security critical: 'tls_cert_file', 'tls_key_file', and 'tls_ca_file' must be set")
	}
	return nil
}

// GenerateConfigArtifacts creates a sample directory structure, a CA
// and leaf certificates, and a sample config file under homeDir.
func GenerateConfigArtifacts(homeDir string, defaultCfg Config, configPath string) error {
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return fmt.Errorf("error creating home directory: %w", err)
	}

	for _, d := range []string{"certs", defaultCfg.DataDir} {
		if err := os.MkdirAll(ResolvePath(homeDir, d), 0o755); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", d, err)
		}
	}

	certsDir := filepath.Dir(ResolvePath(homeDir, defaultCfg.TLSCertFile))
	if err := generateCerts(certsDir); err != nil {
		return fmt.Errorf("error generating certs: %w", err)
	}
	fmt.Printf("Certificates generated in: %s\n", certsDir)

	data, err := json.MarshalIndent(defaultCfg, "", "  ")
	if err != nil {
		return fmt.Errorf("error generating config json: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	fmt.Printf("Sample configuration written to %s\n", configPath)
	return nil
}

func generateCerts(outDir string) error {
	writePEM := func(filename, typeStr string, bytes []byte) error {
		path := filepath.Join(outDir, filename)
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return pem.Encode(f, &pem.Block{Type: typeStr, Bytes: bytes})
	}

	caPriv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return err
	}
	caTemplate := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"replsend CA"}},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caBytes, err := x509.CreateCertificate(rand.Reader, &caTemplate, &caTemplate, &caPriv.PublicKey, caPriv)
	if err != nil {
		return err
	}
	if err := writePEM("ca.crt", "CERTIFICATE", caBytes); err != nil {
		return err
	}

	genLeaf := func(name string, sn int64, hosts []string) error {
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return err
		}
		tmpl := x509.Certificate{
			SerialNumber: big.NewInt(sn),
			Subject:      pkix.Name{Organization: []string{"replsend " + name}},
			NotBefore:    time.Now(),
			NotAfter:     time.Now().Add(365 * 24 * time.Hour),
			KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
			ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
			DNSNames:     hosts,
			IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.IPv6loopback},
		}
		b, err := x509.CreateCertificate(rand.Reader, &tmpl, &caTemplate, &priv.PublicKey, caPriv)
		if err != nil {
			return err
		}
		if err := writePEM(name+".crt", "CERTIFICATE", b); err != nil {
			return err
		}
		return writePEM(name+".key", "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(priv))
	}

	if err := genLeaf("server", 2, []string{"localhost"}); err != nil {
		return err
	}
	return genLeaf("client", 3, nil)
}
