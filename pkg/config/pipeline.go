package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
)

const (
	DefaultPipelineFile = "pipeline.yml"
	DefaultAuditDir     = "audit"
	DefaultStateDir     = "logs/runs"
	AuditFormatCSV      = "csv"
	AuditFormatXLSX     = "xlsx"
)

// Pipeline selects and orders tables from the compiled-in catalog; it never carries SQL.
type Pipeline struct {
	Name             string                   `yaml:"name" validate:"required"`
	Tables           []string                 `yaml:"tables" validate:"dive,required"`
	AuditDir         string                   `yaml:"audit_dir"`
	AuditFormat      string                   `yaml:"audit_format" validate:"omitempty,oneof=csv xlsx"`
	StateDir         string                   `yaml:"state_dir"`
	StatementTimeout time.Duration            `yaml:"statement_timeout"`
	Verify           bool                     `yaml:"verify"`
	Schedule         string                   `yaml:"schedule"`
	Overrides        map[string]TableOverride `yaml:"overrides" validate:"dive"`
}

type TableOverride struct {
	Dedupe *bool    `yaml:"dedupe"`
	Key    []string `yaml:"key" validate:"omitempty,dive,required"`
}

func DefaultPipeline() *Pipeline {
	p := &Pipeline{Name: "kalpana"}
	p.applyDefaults()
	return p
}

func LoadPipeline(fs afero.Fs, path string) (*Pipeline, error) {
	p := &Pipeline{}
	if err := ReadYaml(fs, path, p); err != nil {
		return nil, errors.Wrapf(err, "failed to load the pipeline definition from %s", path)
	}

	p.applyDefaults()

	if p.Schedule != "" {
		if _, err := cron.ParseStandard(p.Schedule); err != nil {
			return nil, errors.Wrapf(err, "invalid schedule '%s'", p.Schedule)
		}
	}

	seen := make(map[string]bool, len(p.Tables))
	for _, table := range p.Tables {
		if seen[table] {
			return nil, errors.Errorf("table '%s' is listed more than once", table)
		}
		seen[table] = true
	}

	return p, nil
}

// LoadPipelineOrDefault falls back to the default definition when the default file does not exist.
func LoadPipelineOrDefault(fs afero.Fs, path string) (*Pipeline, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPipelineFile
	}

	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to check the pipeline definition at %s", path)
	}
	if !exists {
		if explicit {
			return nil, errors.Wrapf(os.ErrNotExist, "pipeline definition %s", path)
		}
		return DefaultPipeline(), nil
	}

	return LoadPipeline(fs, path)
}

func (p *Pipeline) applyDefaults() {
	if p.AuditDir == "" {
		p.AuditDir = DefaultAuditDir
	}
	if p.AuditFormat == "" {
		p.AuditFormat = AuditFormatCSV
	}
	if p.StateDir == "" {
		p.StateDir = DefaultStateDir
	}
}
