package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/dukex/journeys/pkg/models"
	"gopkg.in/yaml.v3"
)

// seedFile is the on-disk layout of a memory seed. Entries go through JSON
// so steps accept the same envelope format as the database column.
type seedFile struct {
	Workflows []map[string]any `yaml:"workflows"`
	Contacts  []map[string]any `yaml:"contacts"`
}

// NewPersistenceFromURL builds a memory store from "memory://" or
// "memory://path/to/seed.yaml".
func NewPersistenceFromURL(ctx context.Context, url string) (*Persistence, error) {
	p := NewPersistence()

	path := strings.TrimPrefix(url, "memory://")
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	err = p.Seed(ctx, data)
	if err != nil {
		return nil, err
	}

	return p, nil
}

// Seed loads workflows and contacts from YAML. Workflows are validated the same
// way Save validates them.
func (p *Persistence) Seed(ctx context.Context, data []byte) error {
	var seed seedFile

	err := yaml.Unmarshal(data, &seed)
	if err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}

	for i, raw := range seed.Workflows {
		var workflow models.WorkflowDefinition

		err = convert(raw, &workflow)
		if err != nil {
			return fmt.Errorf("workflow %d: %w", i, err)
		}

		err = p.workflows.Save(ctx, &workflow)
		if err != nil {
			return fmt.Errorf("workflow %d (%s): %w", i, workflow.ID, err)
		}
	}

	for i, raw := range seed.Contacts {
		var contact models.Contact

		err = convert(raw, &contact)
		if err != nil {
			return fmt.Errorf("contact %d: %w", i, err)
		}

		err = p.contacts.Save(ctx, &contact)
		if err != nil {
			return fmt.Errorf("contact %d (%s): %w", i, contact.ID, err)
		}
	}

	return nil
}

func convert(in map[string]any, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, out)
}
