package script

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/statetree/server/internal/land"
	"github.com/statetree/server/internal/statesync"
)

// Manifest declares the scripted land types a server hosts.
type Manifest struct {
	Lands []LandEntry `yaml:"lands"`
}

// LandEntry is one land type: its schema fields here, its behavior in the
// referenced Lua script.
type LandEntry struct {
	LandType     string `yaml:"landType"`
	DefinitionID string `yaml:"definitionId"`
	// Script is the Lua file path, relative to the manifest.
	Script string `yaml:"script"`

	TickIntervalMs   int  `yaml:"tickIntervalMs"`
	MaxPlayers       int  `yaml:"maxPlayers"`
	AllowPublic      bool `yaml:"allowPublic"`
	MultiRoom        bool `yaml:"multiRoom"`
	IdleDestroyTicks int  `yaml:"idleDestroyTicks"`

	Fields       []FieldEntry `yaml:"fields"`
	ServerEvents []string     `yaml:"serverEvents"`
}

// FieldEntry is one stored field declaration.
type FieldEntry struct {
	Name    string `yaml:"name"`
	Policy  string `yaml:"policy"`
	Kind    string `yaml:"kind"` // leaf (default), map, nested
	Default any    `yaml:"default"`
}

// Load reads a manifest and builds a definition per land entry, each
// backed by its own script engine.
func Load(manifestPath string, log *zap.Logger) ([]*land.Definition, error) {
	if log == nil {
		log = zap.NewNop()
	}
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", manifestPath, err)
	}
	if len(m.Lands) == 0 {
		return nil, fmt.Errorf("manifest %s declares no lands", manifestPath)
	}

	dir := filepath.Dir(manifestPath)
	defs := make([]*land.Definition, 0, len(m.Lands))
	for _, entry := range m.Lands {
		def, err := buildDefinition(dir, entry, log)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func buildDefinition(dir string, entry LandEntry, log *zap.Logger) (*land.Definition, error) {
	if entry.LandType == "" {
		return nil, fmt.Errorf("manifest land entry has no landType")
	}
	if entry.Script == "" {
		return nil, fmt.Errorf("land %s: no script", entry.LandType)
	}

	specs, err := fieldSpecs(entry)
	if err != nil {
		return nil, err
	}
	schema := statesync.BuildMapSchema(entry.LandType, specs)

	engine, err := NewEngine(filepath.Join(dir, entry.Script), log.With(zap.String("landType", entry.LandType)))
	if err != nil {
		return nil, fmt.Errorf("land %s: %w", entry.LandType, err)
	}

	def := &land.Definition{
		LandType:         entry.LandType,
		DefinitionID:     entry.DefinitionID,
		Schema:           schema,
		NewState:         func() any { return statesync.NewMapState(specs) },
		TickInterval:     time.Duration(entry.TickIntervalMs) * time.Millisecond,
		MaxPlayers:       entry.MaxPlayers,
		AllowPublic:      entry.AllowPublic,
		MultiRoom:        entry.MultiRoom,
		IdleDestroyTicks: entry.IdleDestroyTicks,
	}
	if len(entry.ServerEvents) > 0 {
		def.ServerEvents = make(map[string]bool, len(entry.ServerEvents))
		for _, ev := range entry.ServerEvents {
			def.ServerEvents[ev] = true
		}
	}
	if err := engine.Bind(def); err != nil {
		engine.Close()
		return nil, err
	}
	if err := def.Validate(); err != nil {
		engine.Close()
		return nil, err
	}
	return def, nil
}

func fieldSpecs(entry LandEntry) ([]statesync.FieldSpec, error) {
	if len(entry.Fields) == 0 {
		return nil, fmt.Errorf("land %s declares no fields", entry.LandType)
	}
	specs := make([]statesync.FieldSpec, 0, len(entry.Fields))
	for _, f := range entry.Fields {
		policy, err := statesync.ParsePolicy(f.Policy)
		if err != nil {
			return nil, fmt.Errorf("land %s field %s: %w", entry.LandType, f.Name, err)
		}
		var kind statesync.FieldKind
		switch f.Kind {
		case "", "leaf":
			kind = statesync.Leaf
		case "map":
			kind = statesync.MapField
		case "nested":
			kind = statesync.NestedNode
		default:
			return nil, fmt.Errorf("land %s field %s: unknown kind %q", entry.LandType, f.Name, f.Kind)
		}
		// perPlayerSlice fields are maps keyed by playerID; the manifest may
		// leave kind unspecified for them.
		if policy == statesync.PerPlayerSlice {
			kind = statesync.MapField
		}
		spec := statesync.FieldSpec{Name: f.Name, Policy: policy, Kind: kind}
		if f.Default != nil {
			def, err := statesync.FromInterface(f.Default)
			if err != nil {
				return nil, fmt.Errorf("land %s field %s default: %w", entry.LandType, f.Name, err)
			}
			spec.Default = def
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
