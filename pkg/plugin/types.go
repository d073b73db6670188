package plugin

import (
	"fmt"

	"AgentNFT-Chain/internal/vm"
)

// Capability names a host facility a logic module may request.
type Capability string

const (
	// CapabilityStorage lets the module read and write the agent's storage.
	CapabilityStorage Capability = "storage"
	// CapabilityEvents lets the module emit events.
	CapabilityEvents Capability = "events"
	// CapabilityReenter lets the module call back into the token.
	CapabilityReenter Capability = "reenter"
)

var capabilityPerms = map[Capability]vm.Permission{
	CapabilityStorage: vm.PermStorage,
	CapabilityEvents:  vm.PermEvents,
	CapabilityReenter: vm.PermReenter,
}

// Permission maps c to the VM permission bit it grants.
func (c Capability) Permission() (vm.Permission, error) {
	p, ok := capabilityPerms[c]
	if !ok {
		return vm.PermNone, fmt.Errorf("unknown capability %q", c)
	}
	return p, nil
}

// Permissions folds caps into one permission set.
func Permissions(caps []Capability) (vm.Permission, error) {
	perms := vm.PermNone
	for _, c := range caps {
		p, err := c.Permission()
		if err != nil {
			return vm.PermNone, err
		}
		perms |= p
	}
	return perms, nil
}

// Info contains descriptive metadata for a logic module.
type Info struct {
	ID           string
	Name         string
	Description  string
	Author       string
	Version      string
	Capabilities []Capability
}

// State represents the lifecycle position of a plugin instance.
type State string

const (
	StateRegistered State = "registered"
	StateDeployed   State = "deployed"
)
