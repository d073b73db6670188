package plugin

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"AgentNFT-Chain/internal/vm"
	"AgentNFT-Chain/pkg/logger"
)

// Manager keeps track of registered logic modules and deploys them into a
// VM registry.
type Manager struct {
	mu        sync.RWMutex
	registry  map[string]*instance
	loader    Loader
	isolation IsolationStrategy
	defaults  IsolationPolicy
	logger    *slog.Logger
}

type instance struct {
	Plugin  Plugin
	Info    Info
	State   State
	Perms   vm.Permission
	Address common.Address
	Source  string
}

// Deployment records where a module was installed.
type Deployment struct {
	ID      string
	Name    string
	Address common.Address
	Perms   vm.Permission
}

// NewManager constructs a manager and loads every enabled module in cfg.
func NewManager(cfg ManagerConfig, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		registry:  make(map[string]*instance),
		loader:    GoPluginLoader{},
		isolation: NewIsolationStrategy(nil),
		defaults:  cfg.Defaults,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logger.Named("plugin")
	}
	if err := m.loadConfigured(cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// Register validates p against the merged policy and records it. A non-zero
// address pins the deployment address.
func (m *Manager) Register(id string, p Plugin, cfg map[string]any, policy IsolationPolicy, address common.Address) error {
	if id == "" {
		return errors.New("plugin id cannot be empty")
	}
	if p == nil {
		return errors.New("plugin implementation cannot be nil")
	}
	info := p.Info()
	if info.ID != "" && info.ID != id {
		return fmt.Errorf("plugin id mismatch: %s != %s", info.ID, id)
	}
	policy = MergePolicies(m.defaults, &policy)
	if err := EnsurePolicy(info, policy); err != nil {
		return fmt.Errorf("plugin %s: %w", id, err)
	}
	perms, err := m.isolation.Grant(info, policy)
	if err != nil {
		return fmt.Errorf("plugin %s: %w", id, err)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	if err := p.Configure(cfg); err != nil {
		return fmt.Errorf("configure plugin %s: %w", id, err)
	}
	code := p.Code()
	_, isLogic := code.(vm.Logic)
	_, isReceiver := code.(vm.Receiver)
	if !isLogic && !isReceiver {
		return fmt.Errorf("plugin %s code %T implements neither vm.Logic nor vm.Receiver", id, code)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.registry[id]; exists {
		return fmt.Errorf("plugin %s already registered", id)
	}
	m.registry[id] = &instance{
		Plugin:  p,
		Info:    mergeInfo(info, id),
		State:   StateRegistered,
		Perms:   perms,
		Address: address,
		Source:  "manual",
	}
	return nil
}

// Load loads a module from disk and registers it.
func (m *Manager) Load(id string, path string, cfg map[string]any, policy IsolationPolicy, address common.Address) error {
	if path == "" {
		return errors.New("plugin path cannot be empty")
	}
	p, err := m.loader.Load(path)
	if err != nil {
		return fmt.Errorf("load plugin from %s: %w", path, err)
	}
	if err := m.Register(id, p, cfg, policy, address); err != nil {
		return err
	}
	m.mu.Lock()
	m.registry[id].Source = path
	m.mu.Unlock()
	return nil
}

// Deploy installs every registered module into registry in id order, so
// derived addresses are stable across restarts with the same configuration.
// Modules already deployed are skipped.
func (m *Manager) Deploy(registry *vm.Registry, deployer common.Address) ([]Deployment, error) {
	if registry == nil {
		return nil, errors.New("vm registry cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.registry))
	for id := range m.registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Deployment, 0, len(ids))
	for _, id := range ids {
		inst := m.registry[id]
		if inst.State == StateDeployed {
			continue
		}
		name := inst.Info.Name
		if name == "" {
			name = id
		}
		addr := inst.Address
		if addr != (common.Address{}) {
			if err := registry.Register(addr, name, inst.Plugin.Code(), inst.Perms); err != nil {
				return out, fmt.Errorf("deploy plugin %s: %w", id, err)
			}
		} else {
			var err error
			addr, err = registry.Deploy(deployer, name, inst.Plugin.Code(), inst.Perms)
			if err != nil {
				return out, fmt.Errorf("deploy plugin %s: %w", id, err)
			}
		}
		inst.Address = addr
		inst.State = StateDeployed
		m.logger.Info("logic module deployed",
			slog.String("plugin", id),
			slog.String("address", addr.Hex()),
			slog.String("source", inst.Source),
		)
		out = append(out, Deployment{ID: id, Name: name, Address: addr, Perms: inst.Perms})
	}
	return out, nil
}

// State returns the lifecycle state of a module.
func (m *Manager) State(id string) (State, error) {
	inst, err := m.get(id)
	if err != nil {
		return "", err
	}
	return inst.State, nil
}

// Address returns where id was deployed, or the pinned address before deployment.
func (m *Manager) Address(id string) (common.Address, error) {
	inst, err := m.get(id)
	if err != nil {
		return common.Address{}, err
	}
	return inst.Address, nil
}

func (m *Manager) get(id string) (*instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.registry[id]
	if !ok {
		return nil, fmt.Errorf("plugin %s not registered", id)
	}
	return inst, nil
}

func (m *Manager) loadConfigured(cfg ManagerConfig) error {
	ids := make([]string, 0, len(cfg.Plugins))
	for id := range cfg.Plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		pluginCfg := cfg.Plugins[id]
		if !pluginCfg.Enabled {
			continue
		}
		path := pluginCfg.Path
		if !filepath.IsAbs(path) && cfg.PluginDir != "" {
			path = filepath.Join(cfg.PluginDir, path)
		}
		var addr common.Address
		if pluginCfg.Address != "" {
			addr = common.HexToAddress(pluginCfg.Address)
		}
		policy := MergePolicies(cfg.Defaults, pluginCfg.Policy)
		if err := m.Load(id, path, cloneConfig(pluginCfg.Config), policy, addr); err != nil {
			return err
		}
	}
	return nil
}

func mergeInfo(info Info, id string) Info {
	if info.ID == "" {
		info.ID = id
	}
	return info
}

func cloneConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return map[string]any{}
	}
	cp := make(map[string]any, len(cfg))
	for k, v := range cfg {
		cp[k] = v
	}
	return cp
}
