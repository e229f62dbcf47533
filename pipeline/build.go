package pipeline

import (
	"fmt"
	"path/filepath"

	"github.com/dcshock/pipectl/config"
)

// BuildRegistry builds the registry for all modules A-L from the stage table.
//
// Each module gets up to two strategies, tried in order:
//
//  1. in-process: the unit named by stages.<LETTER>.unit, or else a catalog
//     unit registered as module_<letter>;
//  2. external process: stages.<LETTER>.command, or else the executable
//     module_<letter> under pipeline.stage_dir (or on PATH when unset).
//
// A unit name missing from the catalog fails with ErrNotRegistered.
func BuildRegistry(cfg *config.Config, catalog *Catalog) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if catalog == nil {
		catalog = NewCatalog()
	}
	reg := NewRegistry()
	for _, m := range AllModules {
		sc := cfg.Stage(m.String())
		entry := Entry{Module: m, Timeout: sc.Timeout.Duration()}
		if entry.Timeout <= 0 {
			entry.Timeout = cfg.Pipeline.StageTimeout.Duration()
		}

		switch {
		case sc.Unit != "":
			unit, ok := catalog.Get(sc.Unit)
			if !ok {
				return nil, fmt.Errorf("stages.%s.unit: %w: %q (known: %v)", m, ErrNotRegistered, sc.Unit, catalog.Names())
			}
			entry.Strategies = append(entry.Strategies, InProcess{Label: sc.Unit, Unit: unit})
		default:
			if unit, ok := catalog.Get(m.Name()); ok {
				entry.Strategies = append(entry.Strategies, InProcess{Label: m.Name(), Unit: unit})
			}
		}

		command := sc.Command
		if len(command) == 0 {
			command = []string{defaultCommand(cfg.Pipeline.StageDir, m)}
		}
		entry.Strategies = append(entry.Strategies, ExternalProcess{Command: command})

		reg.Register(entry)
	}
	return reg, nil
}

func defaultCommand(stageDir string, m ModuleID) string {
	if stageDir == "" {
		return m.Name()
	}
	abs, err := filepath.Abs(filepath.Join(stageDir, m.Name()))
	if err != nil {
		return filepath.Join(stageDir, m.Name())
	}
	return abs
}
