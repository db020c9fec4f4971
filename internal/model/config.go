package model

import (
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultWorkers is the pool size used when none is configured.
	DefaultWorkers = 4
	// DefaultCondaEnv is the conda environment expected to hold the
	// docking toolchain.
	DefaultCondaEnv = "dock"
	// DefaultTimeout bounds the wall clock of a single docking run.
	DefaultTimeout = 600 * time.Second
)

// Config is the full configuration of one batch. It can be loaded from
// a YAML file, individual fields are then overridden by CLI flags.
type Config struct {
	Protein    string
	LigandDB   string
	Output     string
	DockHome   string
	HemeResNum string
	Chain      string
	Workers    int
	CondaEnv   string
	CondaBase  string
	Timeout    time.Duration
	KeepTemp   bool
	Verbose    bool
}

// DefaultConfig returns a Config with every optional field at its
// default value. Required paths stay empty.
func DefaultConfig() Config {
	return Config{
		Workers:  DefaultWorkers,
		CondaEnv: DefaultCondaEnv,
		Timeout:  DefaultTimeout,
	}
}

// fileConfig mirrors Config on disk. Timeout is a string there so the
// usual "10m" / "600s" forms work.
type fileConfig struct {
	Protein    string `yaml:"protein"`
	LigandDB   string `yaml:"ligand_db"`
	Output     string `yaml:"output"`
	DockHome   string `yaml:"dock_home,omitempty"`
	HemeResNum string `yaml:"heme_res_num,omitempty"`
	Chain      string `yaml:"chain,omitempty"`
	Workers    int    `yaml:"workers,omitempty"`
	CondaEnv   string `yaml:"conda_env,omitempty"`
	CondaBase  string `yaml:"conda_base,omitempty"`
	Timeout    string `yaml:"timeout,omitempty"`
	KeepTemp   bool   `yaml:"keep_temp,omitempty"`
	Verbose    bool   `yaml:"verbose,omitempty"`
}

// LoadConfig decodes a YAML configuration. Unknown keys are rejected.
// Fields absent from the document keep their defaults.
func LoadConfig(r io.Reader) (Config, error) {
	var fc fileConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Protein = fc.Protein
	cfg.LigandDB = fc.LigandDB
	cfg.Output = fc.Output
	cfg.DockHome = fc.DockHome
	cfg.HemeResNum = fc.HemeResNum
	cfg.Chain = fc.Chain
	cfg.KeepTemp = fc.KeepTemp
	cfg.Verbose = fc.Verbose
	if fc.Workers != 0 {
		cfg.Workers = fc.Workers
	}
	if fc.CondaEnv != "" {
		cfg.CondaEnv = fc.CondaEnv
	}
	if fc.CondaBase != "" {
		cfg.CondaBase = fc.CondaBase
	}
	if fc.Timeout != "" {
		d, err := time.ParseDuration(fc.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parsing config timeout: %w", err)
		}
		cfg.Timeout = d
	}
	return cfg, nil
}

// Validate checks the invariants every batch needs before dispatch.
// Path existence is checked by the caller, not here.
func (c Config) Validate() error {
	var errs []error
	if c.Protein == "" {
		errs = append(errs, errors.New("protein path is required"))
	}
	if c.LigandDB == "" {
		errs = append(errs, errors.New("ligand_db path is required"))
	}
	if c.Output == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.CondaEnv == "" {
		errs = append(errs, errors.New("conda_env is required"))
	}
	return errors.Join(errs...)
}
