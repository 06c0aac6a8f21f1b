package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultRetentionDays applies when retention_days is not set.
const DefaultRetentionDays = 30

// Config represents the main configuration for luks-keeper.
type Config struct {
	BaseDir        string                `toml:"base_dir" yaml:"base_dir"`
	LogDir         string                `toml:"log_dir" yaml:"log_dir"`
	KeyDir         string                `toml:"key_dir,omitempty" yaml:"key_dir,omitempty"` // shorthand for keystore.key_dir
	Recipient      string                `toml:"recipient,omitempty" yaml:"recipient,omitempty"`
	SnapshotRoot   string                `toml:"snapshot_root,omitempty" yaml:"snapshot_root,omitempty"`
	SnapshotSource string                `toml:"snapshot_source,omitempty" yaml:"snapshot_source,omitempty"`
	RetentionDays  *int                  `toml:"retention_days,omitempty" yaml:"retention_days,omitempty"`
	UnmountOrder   string                `toml:"unmount_order,omitempty" yaml:"unmount_order,omitempty"` // "reverse" (default) or "configured"
	Hooks          map[string]HookConfig `toml:"hooks,omitempty" yaml:"hooks,omitempty"`
	Devices        []DeviceConfig        `toml:"devices" yaml:"devices"`
	KeyStore       KeyStoreConfig        `toml:"keystore" yaml:"keystore"`
	Encryption     EncryptionConfig      `toml:"encryption" yaml:"encryption"`
	History        HistoryConfig         `toml:"history" yaml:"history"`

	// GPGRecipient is accepted so older config files still load. Records
	// are sealed to Recipient with age; this value is not used.
	GPGRecipient string `toml:"gpg_recipient,omitempty" yaml:"gpg_recipient,omitempty"`
}

// DeviceConfig describes one LUKS device. A mount_point of "none", or an
// empty one, means the device is opened but not mounted.
type DeviceConfig struct {
	Name         string                `toml:"name" yaml:"name"`
	DevNode      string                `toml:"devnode" yaml:"devnode"`
	MountPoint   string                `toml:"mount_point,omitempty" yaml:"mount_point,omitempty"`
	MountOptions string                `toml:"mount_options,omitempty" yaml:"mount_options,omitempty"`
	Hooks        map[string]HookConfig `toml:"hooks,omitempty" yaml:"hooks,omitempty"`
}

// HookConfig is a command run at a lifecycle transition.
type HookConfig struct {
	Command      string `toml:"command" yaml:"command"`
	IgnoreErrors bool   `toml:"ignore_errors,omitempty" yaml:"ignore_errors,omitempty"`
}

// KeyStoreConfig selects where encrypted passphrase records live.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type KeyStoreConfig struct {
	Type string `toml:"type" yaml:"type"` // "file" (default), "s3", or "memory"

	// File-specific fields (only used when Type == "file")
	KeyDir string `toml:"key_dir,omitempty" yaml:"key_dir,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty" yaml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty" yaml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty" yaml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty" yaml:"s3_endpoint,omitempty"`

	// Static credentials; when unset the default AWS credential chain is used.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty" yaml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty" yaml:"s3_secret_access_key,omitempty"`
}

// EncryptionConfig holds paths to the age identity used to seal records.
type EncryptionConfig struct {
	Type           string `toml:"type" yaml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path" yaml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path" yaml:"private_key_path"`
}

// HistoryConfig configures the run history database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type HistoryConfig struct {
	Type    string `toml:"type" yaml:"type"`                               // "sqlite" (default) or "memory"
	DataDir string `toml:"data_dir,omitempty" yaml:"data_dir,omitempty"` // only used for type=sqlite
}

// NewConfig creates a new Config rooted at baseDir with default paths.
func NewConfig(baseDir string) *Config {
	retention := DefaultRetentionDays
	return &Config{
		BaseDir:       baseDir,
		LogDir:        filepath.Join(baseDir, "log"),
		RetentionDays: &retention,
		UnmountOrder:  "reverse",
		KeyStore: KeyStoreConfig{
			Type:   "file",
			KeyDir: filepath.Join(baseDir, "keys"),
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "identity", "identity.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "identity", "identity.key"),
		},
		History: HistoryConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
	}
}

// Format is a configuration file encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatForPath picks the encoding from a file extension. Anything that is
// not .yaml or .yml is read as TOML.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatTOML
	}
}

// Manager handles reading and writing configuration.
type Manager struct {
	Format Format
}

// Read decodes a Config from the provided reader. Keys that match no
// field are an error, so a misspelled option is reported rather than
// silently ignored.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	switch m.Format {
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	default:
		md, err := toml.NewDecoder(r).Decode(&cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("failed to decode config: unknown keys: %s", strings.Join(keys, ", "))
		}
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	switch m.Format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
	default:
		if err := toml.NewEncoder(w).Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
	}
	return nil
}

// ReadFromFile reads and validates a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{Format: FormatForPath(path)}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
// This is an internal helper and should not be exported.
func writeToFile(path string, cfg *Config) error {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{Format: FormatForPath(path)}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

// DefaultBaseDir returns $LUKS_KEEPER_HOME, or ~/.local/share/luks-keeper.
func DefaultBaseDir() (string, error) {
	if path := os.Getenv("LUKS_KEEPER_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "luks-keeper"), nil
}

// applyDefaults fills in values the file left out. A file without
// base_dir keeps its state under DefaultBaseDir.
func (c *Config) applyDefaults() error {
	if c.RetentionDays == nil {
		retention := DefaultRetentionDays
		c.RetentionDays = &retention
	}
	if c.UnmountOrder == "" {
		c.UnmountOrder = "reverse"
	}
	if c.KeyStore.Type == "" {
		c.KeyStore.Type = "file"
	}
	if c.KeyStore.KeyDir == "" {
		c.KeyStore.KeyDir = c.KeyDir
	}
	if c.Encryption.Type == "" {
		c.Encryption.Type = "age"
	}
	if c.History.Type == "" {
		c.History.Type = "sqlite"
	}

	if c.BaseDir == "" {
		baseDir, err := DefaultBaseDir()
		if err != nil {
			return err
		}
		c.BaseDir = baseDir
	}
	c.BaseDir = expandHome(c.BaseDir)

	if c.LogDir == "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}
	if c.KeyStore.Type == "file" && c.KeyStore.KeyDir == "" {
		c.KeyStore.KeyDir = filepath.Join(c.BaseDir, "keys")
	}
	if c.Encryption.PublicKeyPath == "" {
		c.Encryption.PublicKeyPath = filepath.Join(c.BaseDir, "identity", "identity.pub")
	}
	if c.Encryption.PrivateKeyPath == "" {
		c.Encryption.PrivateKeyPath = filepath.Join(c.BaseDir, "identity", "identity.key")
	}
	if c.History.DataDir == "" {
		c.History.DataDir = filepath.Join(c.BaseDir, "db")
	}

	for _, p := range []*string{
		&c.LogDir,
		&c.KeyStore.KeyDir,
		&c.Encryption.PublicKeyPath,
		&c.Encryption.PrivateKeyPath,
		&c.History.DataDir,
		&c.SnapshotRoot,
		&c.SnapshotSource,
	} {
		*p = expandHome(*p)
	}
	for i := range c.Devices {
		c.Devices[i].MountPoint = normalizeMountPoint(c.Devices[i].MountPoint)
	}
	return nil
}

// normalizeMountPoint maps the "do not mount" spellings to "".
func normalizeMountPoint(mp string) string {
	mp = strings.TrimSpace(mp)
	if strings.EqualFold(mp, "none") {
		return ""
	}
	return mp
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
