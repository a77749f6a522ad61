package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIBaseURL  = "https://api.cloudframework.io"
	DefaultCFOsBaseURL = "https://api.cloudframework.dev"
)

type Config struct {
	// core.erp.platform_id
	PlatformID string

	// Root of the buckets/backups tree.
	RootPath string

	// CFO REST API
	APIBaseURL      string
	CFOsBaseURL     string
	HTTPTimeout     time.Duration
	HTTPMaxAttempts int

	// Credentials
	Token           string
	TokenFile       string
	IntegrationKey  string
	SkipSigninCheck bool
	User            string
	Privileges      []string

	// Google account shown by _cloudia/auth
	GoogleEmail       string
	GoogleAccessToken string

	// Parallel workers for backup writes and archive hashing
	Workers int

	// SFTP target for archive uploads
	SFTP SFTPConfig
}

type SFTPConfig struct {
	Host       string
	Port       int
	User       string
	Pass       string
	RemoteDir  string
	KnownHosts string
	Insecure   bool
}

// fileConfig mirrors the dotted config names (core.erp.platform_id, cloudia.*).
type fileConfig struct {
	Core struct {
		ERP struct {
			PlatformID string `yaml:"platform_id" toml:"platform_id"`
		} `yaml:"erp" toml:"erp"`
	} `yaml:"core" toml:"core"`

	Cloudia struct {
		RootPath        string   `yaml:"root_path" toml:"root_path"`
		APIBaseURL      string   `yaml:"api_base_url" toml:"api_base_url"`
		CFOsBaseURL     string   `yaml:"cfos_base_url" toml:"cfos_base_url"`
		TokenFile       string   `yaml:"token_file" toml:"token_file"`
		IntegrationKey  string   `yaml:"integration_key" toml:"integration_key"`
		SkipSigninCheck bool     `yaml:"skip_signin_check" toml:"skip_signin_check"`
		User            string   `yaml:"user" toml:"user"`
		Privileges      []string `yaml:"privileges" toml:"privileges"`
		TimeoutSeconds  int      `yaml:"timeout_seconds" toml:"timeout_seconds"`
		MaxAttempts     int      `yaml:"max_attempts" toml:"max_attempts"`
		Workers         int      `yaml:"workers" toml:"workers"`

		SFTP struct {
			Host       string `yaml:"host" toml:"host"`
			Port       int    `yaml:"port" toml:"port"`
			User       string `yaml:"user" toml:"user"`
			Pass       string `yaml:"pass" toml:"pass"`
			Dir        string `yaml:"dir" toml:"dir"`
			KnownHosts string `yaml:"known_hosts" toml:"known_hosts"`
			Insecure   bool   `yaml:"insecure" toml:"insecure"`
		} `yaml:"sftp" toml:"sftp"`
	} `yaml:"cloudia" toml:"cloudia"`
}

// Load reads the optional config file at path (or the default location) and
// applies environment overrides on top of it.
func Load(path string) (Config, error) {
	var fc fileConfig
	file, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}
	if file != "" {
		if err := decodeFile(file, &fc); err != nil {
			return Config{}, err
		}
	}

	cwd, _ := os.Getwd()
	home, _ := os.UserHomeDir()

	c := fc.Cloudia
	cfg := Config{
		PlatformID: getenv("CLOUDIA_PLATFORM_ID", fc.Core.ERP.PlatformID),
		RootPath:   getenv("CLOUDIA_ROOT_PATH", firstNonEmpty(c.RootPath, cwd)),

		APIBaseURL:      strings.TrimRight(getenv("CLOUDIA_API_BASE_URL", firstNonEmpty(c.APIBaseURL, DefaultAPIBaseURL)), "/"),
		CFOsBaseURL:     strings.TrimRight(getenv("CLOUDIA_CFOS_BASE_URL", firstNonEmpty(c.CFOsBaseURL, DefaultCFOsBaseURL)), "/"),
		HTTPTimeout:     time.Duration(getenvInt("CLOUDIA_HTTP_TIMEOUT_SECONDS", orInt(c.TimeoutSeconds, 120))) * time.Second,
		HTTPMaxAttempts: getenvInt("CLOUDIA_HTTP_MAX_ATTEMPTS", orInt(c.MaxAttempts, 1)),

		Token:           os.Getenv("CLOUDIA_DS_TOKEN"),
		TokenFile:       getenv("CLOUDIA_TOKEN_FILE", firstNonEmpty(c.TokenFile, filepath.Join(home, ".cloudia", "token"))),
		IntegrationKey:  getenv("CLOUDIA_INTEGRATION_KEY", c.IntegrationKey),
		SkipSigninCheck: getenvBool("CLOUDIA_SKIP_SIGNIN_CHECK", c.SkipSigninCheck),
		User:            getenv("CLOUDIA_USER", c.User),
		Privileges:      c.Privileges,

		GoogleEmail:       os.Getenv("GOOGLE_EMAIL_ACCOUNT"),
		GoogleAccessToken: os.Getenv("GOOGLE_ACCESS_TOKEN"),

		Workers: getenvInt("CLOUDIA_WORKERS", orInt(c.Workers, 8)),

		SFTP: SFTPConfig{
			Host:       getenv("CLOUDIA_SFTP_HOST", c.SFTP.Host),
			Port:       getenvInt("CLOUDIA_SFTP_PORT", orInt(c.SFTP.Port, 22)),
			User:       getenv("CLOUDIA_SFTP_USER", c.SFTP.User),
			Pass:       getenv("CLOUDIA_SFTP_PASS", c.SFTP.Pass),
			RemoteDir:  getenv("CLOUDIA_SFTP_DIR", firstNonEmpty(c.SFTP.Dir, "/")),
			KnownHosts: getenv("CLOUDIA_SFTP_KNOWN_HOSTS", c.SFTP.KnownHosts),
			Insecure:   getenvBool("CLOUDIA_SFTP_INSECURE", c.SFTP.Insecure),
		},
	}
	if v := os.Getenv("CLOUDIA_PRIVILEGES"); v != "" {
		cfg.Privileges = splitList(v)
	}
	return cfg, nil
}

func resolvePath(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config: %w", err)
		}
		return path, nil
	}
	if env := os.Getenv("CLOUDIA_CONFIG"); env != "" {
		return resolvePath(env)
	}
	for _, candidate := range []string{"cloudia.yaml", "cloudia.yml", "cloudia.toml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

func decodeFile(path string, fc *fileConfig) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, fc); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.DecodeFile(path, fc); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config: unsupported config file extension %q (use .yaml or .toml)", filepath.Ext(path))
	}
	return nil
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
