package conf

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/ini.v1"
)

var ConfigPath string

type CommandLineArgs struct {
	ConfigPath string
}

/**
[server]
bind-address = 127.0.0.1
port         = 4417
basedir      = .
datadir      = .

[cache]
block_size     = 4096
memory_size    = 134217728
division_limit = 100
age_threshold  = 300
partitions     = 8

[certifier]
gtid_assignment_block_size = 1000000
preemptive_garbage_collection = true
preemptive_garbage_collection_rows_threshold = 20000
certifier_broadcast_period = 60s

[admin]
bind-address = 127.0.0.1
port         = 4418
*/
type Cfg struct {
	Raw         *ini.File
	BindAddress string
	Port        int
	BaseDir     string
	DataDir     string

	Cache     CacheParam     `validate:"required"`
	Certifier CertifierParam `validate:"required"`
	Admin     AdminParam     `validate:"required"`
}

// AdminParam is cmd/cacheadmin's listen address: the runtime control
// surface for resize/change_param/stats, kept separate from the
// server's own bind-address/port so the admin API can be firewalled off
// independently.
type AdminParam struct {
	BindAddress string `default:"127.0.0.1" yaml:"bind_address" json:"bind_address,omitempty"`
	Port        int    `default:"4418" yaml:"port" json:"port,omitempty" validate:"min=1,max=65535"`
}

// CacheParam is the key-cache tunable surface: block size, total memory,
// midpoint-insertion policy (division_limit/age_threshold), and partition
// fan-out.
type CacheParam struct {
	BlockSize     int `default:"4096" yaml:"block_size" json:"block_size,omitempty" validate:"min=512,max=1048576"`
	MemorySize    int `default:"134217728" yaml:"memory_size" json:"memory_size,omitempty" validate:"min=0"`
	DivisionLimit int `default:"100" yaml:"division_limit" json:"division_limit,omitempty" validate:"min=1,max=100"`
	AgeThreshold  int `default:"300" yaml:"age_threshold" json:"age_threshold,omitempty" validate:"min=100"`
	Partitions    int `default:"8" yaml:"partitions" json:"partitions,omitempty" validate:"min=1,max=64"`
}

// CertifierParam is the certifier tunable surface.
type CertifierParam struct {
	GTIDAssignmentBlockSize   int64         `default:"1000000" yaml:"gtid_assignment_block_size" json:"gtid_assignment_block_size,omitempty" validate:"min=1"`
	PreemptiveGC              bool          `default:"true" yaml:"preemptive_garbage_collection" json:"preemptive_garbage_collection,omitempty"`
	PreemptiveGCRowsThreshold int           `default:"20000" yaml:"preemptive_garbage_collection_rows_threshold" json:"preemptive_garbage_collection_rows_threshold,omitempty" validate:"min=0"`
	BroadcastPeriod           string        `default:"60s" yaml:"certifier_broadcast_period" json:"certifier_broadcast_period,omitempty"`
	BroadcastPeriodDuration   time.Duration `validate:"required"`
}

func NewCfg() *Cfg {
	return &Cfg{
		Raw:         ini.Empty(),
		BindAddress: "127.0.0.1",
		Port:        4417,
		Cache: CacheParam{
			BlockSize:     4096,
			MemorySize:    128 * 1024 * 1024,
			DivisionLimit: 100,
			AgeThreshold:  300,
			Partitions:    8,
		},
		Certifier: CertifierParam{
			GTIDAssignmentBlockSize:   1000000,
			PreemptiveGC:              true,
			PreemptiveGCRowsThreshold: 20000,
			BroadcastPeriod:           "60s",
			BroadcastPeriodDuration:   60 * time.Second,
		},
		Admin: AdminParam{
			BindAddress: "127.0.0.1",
			Port:        4418,
		},
	}
}

// Load parses the INI file named by args, fills cfg, and validates it.
// Unlike the original, a malformed config is returned as an error rather
// than an os.Exit — callers (cmd/cacheadmin, tests) decide how to react.
func (cfg *Cfg) Load(args *CommandLineArgs) (*Cfg, error) {
	setHomePath(args)
	iniFile, err := cfg.loadConfiguration(args)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	cfg.Raw = iniFile

	if err := cfg.parseServerCfg(cfg.Raw.Section("server")); err != nil {
		return nil, err
	}
	if err := cfg.parseCacheCfg(cfg.Raw.Section("cache")); err != nil {
		return nil, err
	}
	if err := cfg.parseCertifierCfg(cfg.Raw.Section("certifier")); err != nil {
		return nil, err
	}
	if err := cfg.parseAdminCfg(cfg.Raw.Section("admin")); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setHomePath(args *CommandLineArgs) {
	if args.ConfigPath != "" {
		ConfigPath = args.ConfigPath
		return
	}
	ConfigPath, _ = filepath.Abs(".")
}

func (cfg *Cfg) parseServerCfg(section *ini.Section) error {
	bindAddress, err := valueAsString(section, "bind-address", cfg.BindAddress)
	if err != nil {
		return fmt.Errorf("bind-address: %w", err)
	}
	if ip := net.ParseIP(bindAddress); ip == nil {
		return fmt.Errorf("bind-address %q is not a valid IP", bindAddress)
	}
	cfg.BindAddress = bindAddress
	cfg.Port = section.Key("port").MustInt(cfg.Port)
	cfg.BaseDir = section.Key("basedir").MustString(".")
	cfg.DataDir = section.Key("datadir").MustString(".")
	return nil
}

func (cfg *Cfg) parseCacheCfg(section *ini.Section) error {
	cfg.Cache.BlockSize = section.Key("block_size").MustInt(cfg.Cache.BlockSize)
	cfg.Cache.MemorySize = section.Key("memory_size").MustInt(cfg.Cache.MemorySize)
	cfg.Cache.DivisionLimit = section.Key("division_limit").MustInt(cfg.Cache.DivisionLimit)
	cfg.Cache.AgeThreshold = section.Key("age_threshold").MustInt(cfg.Cache.AgeThreshold)
	cfg.Cache.Partitions = section.Key("partitions").MustInt(cfg.Cache.Partitions)
	return nil
}

func (cfg *Cfg) parseCertifierCfg(section *ini.Section) error {
	var err error
	cfg.Certifier.GTIDAssignmentBlockSize = section.Key("gtid_assignment_block_size").MustInt64(cfg.Certifier.GTIDAssignmentBlockSize)
	cfg.Certifier.PreemptiveGC = section.Key("preemptive_garbage_collection").MustBool(cfg.Certifier.PreemptiveGC)
	cfg.Certifier.PreemptiveGCRowsThreshold = section.Key("preemptive_garbage_collection_rows_threshold").MustInt(cfg.Certifier.PreemptiveGCRowsThreshold)
	cfg.Certifier.BroadcastPeriod = section.Key("certifier_broadcast_period").MustString(cfg.Certifier.BroadcastPeriod)
	cfg.Certifier.BroadcastPeriodDuration, err = time.ParseDuration(cfg.Certifier.BroadcastPeriod)
	if err != nil {
		return fmt.Errorf("certifier_broadcast_period: %w", err)
	}
	return nil
}

func (cfg *Cfg) parseAdminCfg(section *ini.Section) error {
	bindAddress, err := valueAsString(section, "bind-address", cfg.Admin.BindAddress)
	if err != nil {
		return fmt.Errorf("admin bind-address: %w", err)
	}
	if ip := net.ParseIP(bindAddress); ip == nil {
		return fmt.Errorf("admin bind-address %q is not a valid IP", bindAddress)
	}
	cfg.Admin.BindAddress = bindAddress
	cfg.Admin.Port = section.Key("port").MustInt(cfg.Admin.Port)
	return nil
}

func (cfg *Cfg) loadConfiguration(args *CommandLineArgs) (*ini.File, error) {
	defaultConfigFile := path.Join(args.ConfigPath, "")

	if _, err := os.Stat(defaultConfigFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file %q does not exist", defaultConfigFile)
	}

	parsedFile, err := ini.Load(defaultConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", defaultConfigFile, err)
	}
	return parsedFile, nil
}

func valueAsString(section *ini.Section, keyName string, defaultValue string) (value string, err error) {
	defer func() {
		if err_ := recover(); err_ != nil {
			err = errors.New("invalid value for key '" + keyName + "' in configuration file")
		}
	}()

	return section.Key(keyName).MustString(defaultValue), nil
}
