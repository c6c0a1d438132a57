package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/andreyvit/livedb/store"
)

// Scenario describes a server, the live queries to watch and a sequence of
// steps to replay against them.
type Scenario struct {
	// Server rows by table and key.
	Server  map[string]map[string]map[string]any `yaml:"server"`
	Offline bool                                 `yaml:"offline"`
	Queries []QueryDef                           `yaml:"queries"`
	Steps   []Step                               `yaml:"steps"`
}

type QueryDef struct {
	Name    string      `yaml:"name"`
	Partial bool        `yaml:"partial"`
	Query   store.Query `yaml:",inline"`
}

// Step does exactly one thing.
type Step struct {
	Put    *RowOp `yaml:"put,omitempty"`
	Delete *RowOp `yaml:"delete,omitempty"`
	Online *bool  `yaml:"online,omitempty"`
	Sync   bool   `yaml:"sync,omitempty"`
	// OnServer applies Put and Delete to the server instead of the local store.
	OnServer bool `yaml:"on_server,omitempty"`
}

type RowOp struct {
	Table string         `yaml:"table"`
	Key   string         `yaml:"key"`
	Row   map[string]any `yaml:"row,omitempty"`
}

func (s Step) String() string {
	where := "local"
	if s.OnServer {
		where = "server"
	}
	switch {
	case s.Put != nil:
		return fmt.Sprintf("put %s/%s (%s)", s.Put.Table, s.Put.Key, where)
	case s.Delete != nil:
		return fmt.Sprintf("delete %s/%s (%s)", s.Delete.Table, s.Delete.Key, where)
	case s.Online != nil:
		return fmt.Sprintf("online=%v", *s.Online)
	case s.Sync:
		return "sync"
	default:
		return "noop"
	}
}

func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(raw)
}

func ParseScenario(raw []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (sc *Scenario) validate() error {
	if len(sc.Queries) == 0 {
		return errors.New("scenario has no queries")
	}
	names := make(map[string]bool)
	for i, q := range sc.Queries {
		if q.Name == "" {
			return fmt.Errorf("query %d: no name", i)
		}
		if names[q.Name] {
			return fmt.Errorf("query %d: duplicate name %q", i, q.Name)
		}
		names[q.Name] = true
		if q.Query.Table == "" {
			return fmt.Errorf("query %s: no table", q.Name)
		}
	}
	for i, s := range sc.Steps {
		var actions int
		if s.Put != nil {
			actions++
		}
		if s.Delete != nil {
			actions++
		}
		if s.Online != nil {
			actions++
		}
		if s.Sync {
			actions++
		}
		if actions != 1 {
			return fmt.Errorf("step %d: wanted exactly one of put, delete, online, sync, got %d", i+1, actions)
		}
		if op := s.rowOp(); op != nil && (op.Table == "" || op.Key == "") {
			return fmt.Errorf("step %d: table and key are required", i+1)
		}
	}
	return nil
}

func (s Step) rowOp() *RowOp {
	if s.Put != nil {
		return s.Put
	}
	return s.Delete
}
