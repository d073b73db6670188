package plugin

import (
	"errors"
	"fmt"
	"slices"

	"AgentNFT-Chain/internal/vm"
)

// IsolationStrategy decides which VM permissions a module receives.
//
// Permissions restrict what a module can reach, not how long it runs. Gas is
// charged only for host operations and declared Compute units, so a module
// that loops without calling Frame.Compute holds the ledger until it returns.
// Loaded modules run in-process and must be trusted to meter their own work.
type IsolationStrategy interface {
	Validate(info Info, policy IsolationPolicy) error
	Grant(info Info, policy IsolationPolicy) (vm.Permission, error)
}

// CapabilityStrategy grants exactly the declared capabilities that the
// policy allows.
type CapabilityStrategy struct{}

// Validate ensures the requested capabilities are known and allowed.
func (CapabilityStrategy) Validate(info Info, policy IsolationPolicy) error {
	if _, err := Permissions(info.Capabilities); err != nil {
		return err
	}
	for _, cap := range policy.DeniedCapabilities {
		if slices.Contains(info.Capabilities, cap) {
			return fmt.Errorf("capability %s is explicitly denied", cap)
		}
	}
	if len(policy.AllowedCapabilities) == 0 {
		return nil
	}
	for _, cap := range info.Capabilities {
		if !slices.Contains(policy.AllowedCapabilities, cap) {
			return fmt.Errorf("capability %s not permitted", cap)
		}
	}
	return nil
}

// Grant implements IsolationStrategy.
func (s CapabilityStrategy) Grant(info Info, policy IsolationPolicy) (vm.Permission, error) {
	if err := s.Validate(info, policy); err != nil {
		return vm.PermNone, err
	}
	return Permissions(info.Capabilities)
}

// NewIsolationStrategy returns a default isolation strategy if none is supplied.
func NewIsolationStrategy(strategy IsolationStrategy) IsolationStrategy {
	if strategy == nil {
		return CapabilityStrategy{}
	}
	return strategy
}

// MergePolicies combines the default and plugin specific isolation policies.
func MergePolicies(defaults IsolationPolicy, plugin *IsolationPolicy) IsolationPolicy {
	if plugin == nil {
		return defaults
	}
	merged := plugin.Merge(defaults)
	if len(merged.AllowedCapabilities) == 0 && len(merged.DeniedCapabilities) == 0 {
		return defaults
	}
	return merged
}

// EnsurePolicy returns an error when the isolation policy is empty and the
// module requests capabilities.
func EnsurePolicy(info Info, policy IsolationPolicy) error {
	if len(info.Capabilities) == 0 {
		return nil
	}
	if len(policy.AllowedCapabilities) == 0 && len(policy.DeniedCapabilities) == 0 {
		return errors.New("modules declaring capabilities require an isolation policy")
	}
	return nil
}
