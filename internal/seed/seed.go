// Package seed loads default voice commands and workflow triggers from a YAML
// file. Defaults are applied to a user's stores the first time they are
// created.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/chirino/assistant-state/internal/voicecommands"
	"github.com/chirino/assistant-state/internal/workflows"
	"gopkg.in/yaml.v3"
)

// File is the document layout of a seed file:
//
//	commands:
//	  - phrase: good morning
//	    action: respond
//	    response: Good morning!
//	workflows:
//	  - name: Leaving home
//	    phrases: [i'm leaving]
//	    actions:
//	      - type: webhook
//	        url: https://example.com/hooks/away
type File struct {
	Commands  []voicecommands.Input `yaml:"commands"`
	Workflows []workflows.Input     `yaml:"workflows"`
}

// Load reads and parses path. An empty path yields an empty File.
func Load(path string) (File, error) {
	if path == "" {
		return File{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a seed document. Unknown keys are rejected.
func Parse(data []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("parse seed file: %w", err)
	}
	return f, nil
}

// Empty reports whether f seeds nothing.
func (f File) Empty() bool {
	return len(f.Commands) == 0 && len(f.Workflows) == 0
}

// Apply seeds commands and workflows into stores that are still empty.
func (f File) Apply(ctx context.Context, commands *voicecommands.Store, flows *workflows.Store) error {
	if commands != nil && len(f.Commands) > 0 {
		if _, err := commands.Seed(ctx, f.Commands); err != nil {
			return fmt.Errorf("seed commands: %w", err)
		}
	}
	if flows != nil && len(f.Workflows) > 0 {
		if _, err := flows.Seed(ctx, f.Workflows); err != nil {
			return fmt.Errorf("seed workflows: %w", err)
		}
	}
	return nil
}
