package config

import (
	"fmt"
	"os"
	"time"

	"github.com/Harshitk-cp/reconledger/internal/domain"
	"gopkg.in/yaml.v3"
)

type pipelineFile struct {
	Stages []stageDef `yaml:"stages"`
}

// stageDef mirrors domain.PipelineStage with optional fields so omitted keys
// take the stage defaults rather than Go zero values.
type stageDef struct {
	Name     string   `yaml:"name"`
	Agents   []string `yaml:"agents"`
	Parallel bool     `yaml:"parallel"`
	Required *bool    `yaml:"required"`
	Timeout  string   `yaml:"timeout"`
}

// ParsePipeline decodes a YAML pipeline definition:
//
//	stages:
//	  - name: recon
//	    agents: [dns, port-scan]
//	    parallel: true
//	    timeout: 90s
func ParsePipeline(data []byte) ([]domain.PipelineStage, error) {
	var f pipelineFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPipeline, err)
	}

	stages := make([]domain.PipelineStage, 0, len(f.Stages))
	for _, d := range f.Stages {
		var opts []domain.StageOption
		if d.Parallel {
			opts = append(opts, domain.Parallel())
		}
		if d.Required != nil && !*d.Required {
			opts = append(opts, domain.Optional())
		}
		if d.Timeout != "" {
			t, err := time.ParseDuration(d.Timeout)
			if err != nil {
				return nil, fmt.Errorf("%w: stage %q timeout: %v", domain.ErrInvalidPipeline, d.Name, err)
			}
			opts = append(opts, domain.WithStageTimeout(t))
		}
		stages = append(stages, domain.NewPipelineStage(d.Name, d.Agents, opts...))
	}

	if err := domain.ValidateStages(stages); err != nil {
		return nil, err
	}
	return stages, nil
}

// LoadPipeline reads path, or returns DefaultPipeline when path is empty.
func LoadPipeline(path string) ([]domain.PipelineStage, error) {
	if path == "" {
		return DefaultPipeline(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file: %w", err)
	}
	return ParsePipeline(data)
}

// DefaultPipeline is the recon -> analysis -> synthesis shape. Agent names
// must be registered by the host before the pipeline runs.
func DefaultPipeline() []domain.PipelineStage {
	return []domain.PipelineStage{
		domain.NewPipelineStage("recon", []string{"dns", "port-scan", "crawler"}, domain.Parallel()),
		domain.NewPipelineStage("analysis", []string{"fingerprint", "js-analysis"}, domain.Parallel()),
		domain.NewPipelineStage("synthesis", []string{"report"}, domain.Optional(), domain.WithStageTimeout(5*time.Minute)),
	}
}
