package task

import (
	"bytes"
	"fmt"
	"os"

	"scrape/internal/normalize"

	"gopkg.in/yaml.v3"
)

// File is the on-disk task file. JSON files parse too, JSON being YAML.
//
//	tasks:
//	  - name: quotes
//	    url: http://quotes.toscrape.com
//	    container: div.quote
//	    fields:
//	      - {name: text, selector: span.text}
//	      - {name: tags, selector: a.tag, all: true}
type File struct {
	Tasks []Task `yaml:"tasks" json:"tasks"`
}

// LoadFile reads and validates a task file against the built-in transforms.
func LoadFile(path string) ([]Task, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	return Decode(b)
}

// Decode parses task file contents. Unknown keys are rejected so a typo in a
// selector option does not silently drop the option.
func Decode(b []byte) ([]Task, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse task file: %w", err)
	}
	if len(f.Tasks) == 0 {
		return nil, fmt.Errorf("task file has no tasks")
	}
	for _, t := range f.Tasks {
		if err := t.Validate(normalize.Builtin); err != nil {
			return nil, err
		}
	}
	return f.Tasks, nil
}
