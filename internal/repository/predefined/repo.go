// Package predefined loads the predefined answer table from YAML.
package predefined

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	dompre "github.com/kailas-cloud/ragdex/internal/domain/predefined"
)

//go:embed default_answers.yaml
var defaultAnswers []byte

type answerDTO struct {
	Question   string   `yaml:"question"`
	Answer     string   `yaml:"answer"`
	Keywords   []string `yaml:"keywords"`
	Confidence *float64 `yaml:"confidence"`
}

type fileDTO struct {
	Answers []answerDTO `yaml:"answers"`
}

const defaultConfidence = 0.8

// Load reads the table from path, or the built-in table when path is empty.
func Load(path string) ([]dompre.Answer, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read predefined answers: %w", err)
	}
	return Parse(data)
}

// Default returns the built-in table.
func Default() ([]dompre.Answer, error) {
	return Parse(defaultAnswers)
}

// Parse decodes a YAML table. Entries without confidence get 0.8.
func Parse(data []byte) ([]dompre.Answer, error) {
	var f fileDTO
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse predefined answers: %w", err)
	}

	out := make([]dompre.Answer, 0, len(f.Answers))
	for i, a := range f.Answers {
		conf := defaultConfidence
		if a.Confidence != nil {
			conf = *a.Confidence
		}
		ans, err := dompre.New(a.Question, a.Answer, a.Keywords, conf)
		if err != nil {
			return nil, fmt.Errorf("predefined answer %d: %w", i, err)
		}
		out = append(out, ans)
	}
	return out, nil
}
