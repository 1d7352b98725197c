package stage

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Experiment wires cohorts to stage definitions. The server provisions
// one instance per (cohort, stage) pair at startup.
type Experiment struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Cohorts []Cohort `yaml:"cohorts"`
	// Stages lists stage config paths, relative to the experiment file.
	Stages []string `yaml:"stages"`
}

type Cohort struct {
	ID           string        `yaml:"id"`
	Participants []Participant `yaml:"participants"`
}

// Participant is a cohort member's profile. PublicID is the identity used
// on the wire and in ledgers.
type Participant struct {
	PublicID    string `yaml:"public_id"`
	Name        string `yaml:"name,omitempty"`
	AvatarEmoji string `yaml:"avatar_emoji,omitempty"`
	Pronouns    string `yaml:"pronouns,omitempty"`
}

// LoadExperiment reads an experiment file and every stage config it
// references.
func LoadExperiment(path string) (Experiment, []Config, error) {
	var exp Experiment
	raw, err := os.ReadFile(path)
	if err != nil {
		return exp, nil, err
	}
	if err := yaml.Unmarshal(raw, &exp); err != nil {
		return exp, nil, fmt.Errorf("experiment config %s: %w", path, err)
	}
	if exp.ID == "" {
		return exp, nil, fmt.Errorf("experiment config %s: missing id", path)
	}
	if len(exp.Cohorts) == 0 {
		return exp, nil, fmt.Errorf("experiment config %s: no cohorts", path)
	}
	for _, c := range exp.Cohorts {
		if c.ID == "" || len(c.Participants) == 0 {
			return exp, nil, fmt.Errorf("experiment config %s: cohort needs an id and participants", path)
		}
	}

	base := filepath.Dir(path)
	stages := make([]Config, 0, len(exp.Stages))
	for _, rel := range exp.Stages {
		cfg, err := Load(filepath.Join(base, rel))
		if err != nil {
			return exp, nil, err
		}
		stages = append(stages, cfg)
	}
	if len(stages) == 0 {
		return exp, nil, fmt.Errorf("experiment config %s: no stages", path)
	}
	return exp, stages, nil
}

// ParticipantIDs returns the cohort's member IDs in declaration order.
func (c Cohort) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.PublicID)
	}
	return ids
}
