package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TaskSpec is one task in a batch file.
type TaskSpec struct {
	ID      string `yaml:"id"`
	Problem string `yaml:"problem"`
	// ProblemFile, when set, is read in place of Problem.
	ProblemFile string            `yaml:"problem_file"`
	Image       string            `yaml:"image"`
	Repo        string            `yaml:"repo"`
	Commit      string            `yaml:"commit"`
	WorkDir     string            `yaml:"workdir"`
	Env         map[string]string `yaml:"env"`
}

type taskFile struct {
	Tasks []TaskSpec `yaml:"tasks"`
}

// LoadTasks reads a batch task file.
func LoadTasks(path string) ([]TaskSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tasks %q: %w", path, err)
	}
	var file taskFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing tasks %q: %w", path, err)
	}
	if len(file.Tasks) == 0 {
		return nil, fmt.Errorf("tasks %q: no tasks defined", path)
	}
	for i := range file.Tasks {
		spec := &file.Tasks[i]
		if spec.ProblemFile != "" {
			problem, err := os.ReadFile(spec.ProblemFile)
			if err != nil {
				return nil, fmt.Errorf("reading problem file for task %d: %w", i, err)
			}
			spec.Problem = string(problem)
		}
		if spec.Problem == "" {
			return nil, fmt.Errorf("tasks %q: task %d has no problem statement", path, i)
		}
	}
	return file.Tasks, nil
}
