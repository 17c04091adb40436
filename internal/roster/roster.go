package roster

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Agent is a simulated specialist. Values are immutable once loaded.
type Agent struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Specialty string `json:"specialty" yaml:"specialty"`
}

// Registry holds the static roster loaded at startup.
// It is never mutated after construction, so it is safe to share without locking.
type Registry struct {
	agents []Agent
	byID   map[string]int
}

// DefaultAgents is the built-in roster used when no roster file is configured.
func DefaultAgents() []Agent {
	return []Agent{
		{ID: "cardio", Name: "Dr. Heart", Specialty: "Cardiology"},
		{ID: "neuro", Name: "Dr. Synapse", Specialty: "Neurology"},
		{ID: "pulmo", Name: "Dr. Breath", Specialty: "Pulmonology"},
		{ID: "gastro", Name: "Dr. Gut", Specialty: "Gastroenterology"},
		{ID: "derma", Name: "Dr. Skin", Specialty: "Dermatology"},
		{ID: "gp", Name: "Dr. General", Specialty: "General Practice"},
	}
}

// NewRegistry builds a registry from agents in declaration order.
// Empty ids and duplicate ids are rejected.
func NewRegistry(agents []Agent) (*Registry, error) {
	r := &Registry{
		agents: make([]Agent, 0, len(agents)),
		byID:   make(map[string]int, len(agents)),
	}
	for _, a := range agents {
		if a.ID == "" {
			return nil, fmt.Errorf("roster: agent %q has no id", a.Name)
		}
		if _, dup := r.byID[a.ID]; dup {
			return nil, fmt.Errorf("roster: duplicate agent id %q", a.ID)
		}
		r.byID[a.ID] = len(r.agents)
		r.agents = append(r.agents, a)
	}
	return r, nil
}

// ListAgents returns the full roster in declaration order.
func (r *Registry) ListAgents() []Agent {
	out := make([]Agent, len(r.agents))
	copy(out, r.agents)
	return out
}

// Get looks an agent up by id.
func (r *Registry) Get(id string) (Agent, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Agent{}, false
	}
	return r.agents[i], true
}

// Resolve maps ids to agents, keeping the caller's order and dropping repeats.
func (r *Registry) Resolve(ids []string) ([]Agent, error) {
	var selection []Agent
	for _, id := range ids {
		a, ok := r.Get(id)
		if !ok {
			return nil, fmt.Errorf("roster: unknown agent %q", id)
		}
		if !Contains(selection, a.ID) {
			selection = append(selection, a)
		}
	}
	return selection, nil
}

// Toggle removes agent from selection if present, otherwise appends it.
// The input slice is never modified.
func Toggle(selection []Agent, agent Agent) []Agent {
	out := make([]Agent, 0, len(selection)+1)
	found := false
	for _, a := range selection {
		if a.ID == agent.ID {
			found = true
			continue
		}
		out = append(out, a)
	}
	if !found {
		out = append(out, agent)
	}
	return out
}

// Contains reports whether an agent with id is in selection.
func Contains(selection []Agent, id string) bool {
	for _, a := range selection {
		if a.ID == id {
			return true
		}
	}
	return false
}

type rosterFile struct {
	Agents []Agent `yaml:"agents"`
}

// Load reads a YAML roster file of the form:
//
//	agents:
//	  - id: cardio
//	    name: Dr. Heart
//	    specialty: Cardiology
//
// An empty path yields the built-in roster.
func Load(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(DefaultAgents())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("roster: read %s: %w", path, err)
	}
	var f rosterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("roster: parse %s: %w", path, err)
	}
	if len(f.Agents) == 0 {
		return nil, fmt.Errorf("roster: %s declares no agents", path)
	}
	return NewRegistry(f.Agents)
}
