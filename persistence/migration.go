package persistence

import (
	"fmt"
	"sort"
	"sync"

	"github.com/blang/semver"
	"github.com/pkg/errors"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

// MigrateFunc turns data stored under the previous schema version into data for
// the migration's version. It receives a private copy it may modify.
type MigrateFunc func(data interface{}) (interface{}, error)

type Migration struct {
	Version     string
	Description string
	Migrate     MigrateFunc
}

type registeredMigration struct {
	Migration
	version semver.Version
}

// MigrationError aborts a migration chain and names the version that failed.
type MigrationError struct {
	Version     string
	Description string
	Err         error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("%v: version %s: %v", types.ErrMigrationFailed, e.Version, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

func (e *MigrationError) Is(target error) bool {
	return target == types.ErrMigrationFailed
}

type Migrator struct {
	migrations []registeredMigration
	mu         sync.RWMutex
}

func NewMigrator(migrations ...Migration) (*Migrator, error) {
	m := &Migrator{}
	for _, migration := range migrations {
		if err := m.Register(migration); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Migrator) Register(migration Migration) error {
	version, err := semver.Parse(migration.Version)
	if err != nil {
		return types.Errorf(types.ErrMigrationVersionInvalid, "%s: %v", migration.Version, err)
	}

	if migration.Migrate == nil {
		return types.Errorf(types.ErrMigrationFunctionIsNil, "version %s", migration.Version)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.migrations {
		if existing.version.EQ(version) {
			return types.Errorf(types.ErrMigrationVersionExists, "version %s", migration.Version)
		}
	}

	m.migrations = append(m.migrations, registeredMigration{Migration: migration, version: version})
	sort.Slice(m.migrations, func(i, j int) bool {
		return m.migrations[i].version.LT(m.migrations[j].version)
	})

	return nil
}

// Versions lists registered versions in ascending order.
func (m *Migrator) Versions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := make([]string, len(m.migrations))
	for i, migration := range m.migrations {
		versions[i] = migration.version.String()
	}
	return versions
}

// Run applies every migration with from < version <= to in ascending order.
// The input is never modified; on failure nothing of the chain is returned.
func (m *Migrator) Run(data interface{}, from, to string) (interface{}, error) {
	fromVersion, err := semver.Parse(from)
	if err != nil {
		return nil, types.Errorf(types.ErrMigrationVersionInvalid, "from %s: %v", from, err)
	}

	toVersion, err := semver.Parse(to)
	if err != nil {
		return nil, types.Errorf(types.ErrMigrationVersionInvalid, "to %s: %v", to, err)
	}

	if fromVersion.GTE(toVersion) {
		return data, nil
	}

	m.mu.RLock()
	pending := make([]registeredMigration, 0, len(m.migrations))
	for _, migration := range m.migrations {
		if migration.version.GT(fromVersion) && migration.version.LTE(toVersion) {
			pending = append(pending, migration)
		}
	}
	m.mu.RUnlock()

	if len(pending) == 0 {
		return data, nil
	}

	var current interface{}
	if err := utils.Convert(data, &current); err != nil {
		return nil, &MigrationError{Version: pending[0].Version, Err: errors.Wrap(err, "copy input")}
	}

	for _, migration := range pending {
		if current, err = apply(migration, current); err != nil {
			return nil, &MigrationError{
				Version:     migration.version.String(),
				Description: migration.Description,
				Err:         err,
			}
		}
	}

	return current, nil
}

func apply(migration registeredMigration, data interface{}) (out interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()

	out, err = migration.Migrate(data)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return out, nil
}
