package config

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saiset-co/sai-cache/types"
)

type ConfigurationManager struct {
	ctx         context.Context
	config      atomic.Pointer[types.ServiceConfig]
	parser      atomic.Pointer[Parser]
	configPath  string
	loader      *Loader
	mu          sync.RWMutex
	loadTimeout time.Duration
}

var _ types.ConfigManager = (*ConfigurationManager)(nil)

func NewConfigurationManager(ctx context.Context, configPath string) (*ConfigurationManager, error) {
	cm := &ConfigurationManager{
		ctx:         ctx,
		configPath:  configPath,
		loader:      NewLoader(),
		loadTimeout: 30 * time.Second,
	}

	if err := cm.Load(); err != nil {
		return nil, types.WrapError(err, "failed to load initial configuration")
	}

	return cm, nil
}

// NewStaticManager wraps an already built configuration. An empty config path
// makes Load re-validate the held configuration only.
func NewStaticManager(config *types.ServiceConfig) (*ConfigurationManager, error) {
	cm := &ConfigurationManager{
		ctx:         context.Background(),
		loader:      NewLoader(),
		loadTimeout: 30 * time.Second,
	}

	if err := cm.loader.Validate(config); err != nil {
		return nil, err
	}

	if err := cm.store(config); err != nil {
		return nil, err
	}
	return cm, nil
}

func (cm *ConfigurationManager) Load() error {
	if cm.configPath == "" {
		if cfg := cm.config.Load(); cfg != nil {
			return cm.loader.Validate(cfg)
		}
		return cm.store(cm.loader.Defaults())
	}

	loadCtx, cancel := context.WithTimeout(cm.ctx, cm.loadTimeout)
	defer cancel()

	config, err := cm.loader.LoadFromFile(loadCtx, cm.configPath)
	if err != nil {
		return types.WrapError(err, "failed to load configuration from file")
	}

	return cm.store(config)
}

func (cm *ConfigurationManager) store(config *types.ServiceConfig) error {
	parser, err := NewParser(config)
	if err != nil {
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.config.Store(config)
	cm.parser.Store(parser)
	return nil
}

func (cm *ConfigurationManager) GetConfig() *types.ServiceConfig {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config.Load()
}

func (cm *ConfigurationManager) GetValue(path string, defaultValue interface{}) interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	parser := cm.parser.Load()
	if parser == nil {
		return defaultValue
	}
	return parser.GetValue(path, defaultValue)
}

func (cm *ConfigurationManager) GetAs(path string, target interface{}) error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	parser := cm.parser.Load()
	if parser == nil {
		return types.ErrConfigIsNil
	}
	return parser.GetAs(path, target)
}

// Describe returns the configuration value at path with secrets masked. An
// empty path describes the whole document.
func (cm *ConfigurationManager) Describe(path string) (interface{}, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	parser := cm.parser.Load()
	if parser == nil {
		return nil, types.ErrConfigIsNil
	}
	return parser.Describe(path)
}

func (cm *ConfigurationManager) Paths() []string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	parser := cm.parser.Load()
	if parser == nil {
		return nil
	}
	return parser.Paths()
}
