// Package config reads and writes the froster TOML configuration.
// Engines receive a fully materialized Config and never read stdin;
// interactive setup lives outside the core.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the main froster configuration. Unknown keys in the file
// are rejected at load time.
type Config struct {
	// DefaultProfile selects the profile used when no --profile flag
	// or FROSTER_PROFILE env var is present.
	DefaultProfile string `toml:"default_profile"`

	// DataDir holds the archive catalog and hotspot CSVs. A shared
	// group directory (setgid) lets cooperating users see the same
	// catalog.
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`

	Profiles map[string]Profile `toml:"profiles"`
	Tools    ToolsConfig        `toml:"tools"`
	Slurm    SlurmConfig        `toml:"slurm"`
	Hotspots HotspotsConfig     `toml:"hotspots"`
	Archive  ArchiveConfig      `toml:"archive"`
}

// Profile describes one object-store destination: provider, session
// settings, bucket, and storage class.
type Profile struct {
	Provider          string `toml:"provider"` // aws, wasabi, gcs, idrive, ceph, minio, other
	CredentialProfile string `toml:"credential_profile"`
	Endpoint          string `toml:"endpoint,omitempty"`
	Region            string `toml:"region"`
	Bucket            string `toml:"bucket"`
	ArchiveDir        string `toml:"archive_dir"`
	StorageClass      string `toml:"storage_class"`
}

// ToolsConfig points at the external helpers the adapter shells out to.
type ToolsConfig struct {
	Rclone     string `toml:"rclone,omitempty"`
	Pwalk      string `toml:"pwalk,omitempty"`
	Fusermount string `toml:"fusermount,omitempty"`
}

// SlurmConfig configures the scheduler bridge.
type SlurmConfig struct {
	Partition       string   `toml:"partition,omitempty"`
	QOS             string   `toml:"qos,omitempty"`
	Walltime        string   `toml:"walltime,omitempty"` // days-hours
	MaxNodeMemMiB   int      `toml:"max_node_mem_mib,omitempty"`
	ScratchSetup    []string `toml:"scratch_setup,omitempty"`
	ScratchTeardown []string `toml:"scratch_teardown,omitempty"`
}

// HotspotsConfig holds indexer thresholds.
type HotspotsConfig struct {
	MinGiB     float64 `toml:"min_gib"`
	MinMiBAvg  float64 `toml:"min_mib_avg"`
	MaxEntries int     `toml:"max_entries"`
}

// ArchiveConfig holds archive engine defaults.
type ArchiveConfig struct {
	SmallFileKiB int64 `toml:"small_file_kib"`
}

// NewConfig creates a Config with defaults for the given data dir.
func NewConfig(dataDir string) *Config {
	return &Config{
		DataDir: dataDir,
		LogDir:  filepath.Join(dataDir, "log"),
		Hotspots: HotspotsConfig{
			MinGiB:     1,
			MinMiBAvg:  10,
			MaxEntries: 5000,
		},
		Archive: ArchiveConfig{SmallFileKiB: 1024},
	}
}

// Read decodes a Config from the provided reader, rejecting unknown
// keys.
func Read(r io.Reader) (*Config, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

// SelectProfile resolves the active profile: the name argument wins,
// then the FROSTER_PROFILE env var, then the configured default.
func (c *Config) SelectProfile(name string) (string, *Profile, error) {
	if name == "" {
		name = os.Getenv("FROSTER_PROFILE")
	}
	if name == "" {
		name = c.DefaultProfile
	}
	if name == "" {
		return "", nil, fmt.Errorf("no profile selected and no default_profile configured")
	}
	p, ok := c.Profiles[name]
	if !ok {
		return "", nil, fmt.Errorf("profile %q is not configured", name)
	}
	return name, &p, nil
}
