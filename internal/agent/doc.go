// Package agent contains the agent token contract. It binds minted
// identities to their operational state, guards the lifecycle state machine,
// dispatches delegated execution through the VM, holds agent funds in
// custody and honours the global emergency pause.
package agent
