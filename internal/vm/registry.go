package vm

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Permission 是授予逻辑代码的宿主能力集合。
type Permission uint8

const (
	PermStorage Permission = 1 << iota
	PermEvents
	PermReenter

	PermNone Permission = 0
	PermAll             = PermStorage | PermEvents | PermReenter
)

// Has 判断 p 是否包含 q 的全部位。
func (p Permission) Has(q Permission) bool {
	return p&q == q
}

type contract struct {
	logic    Logic
	receiver Receiver
	perms    Permission
	name     string
}

// Registry 记录地址到已部署代码的映射。
type Registry struct {
	mu    sync.RWMutex
	code  map[common.Address]*contract
	nonce map[common.Address]uint64
}

// NewRegistry 返回空注册表。
func NewRegistry() *Registry {
	return &Registry{
		code:  make(map[common.Address]*contract),
		nonce: make(map[common.Address]uint64),
	}
}

// Register 在 addr 上安装代码，code 必须实现 Logic 或 Receiver 之一。
func (r *Registry) Register(addr common.Address, name string, code any, perms Permission) error {
	logic, isLogic := code.(Logic)
	receiver, isReceiver := code.(Receiver)
	if !isLogic && !isReceiver {
		return fmt.Errorf("vm: %T implements neither Logic nor Receiver", code)
	}
	if addr == (common.Address{}) {
		return fmt.Errorf("vm: cannot register code at the zero address")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.code[addr]; ok {
		return fmt.Errorf("%w: %s", ErrCodeExists, addr.Hex())
	}
	r.code[addr] = &contract{logic: logic, receiver: receiver, perms: perms, name: name}
	return nil
}

// Deploy 按合约创建地址的推导方式，由 deployer 及其部署次数得出地址并安装代码。
func (r *Registry) Deploy(deployer common.Address, name string, code any, perms Permission) (common.Address, error) {
	r.mu.Lock()
	nonce := r.nonce[deployer]
	r.nonce[deployer] = nonce + 1
	r.mu.Unlock()
	addr := crypto.CreateAddress(deployer, nonce)
	if err := r.Register(addr, name, code, perms); err != nil {
		return common.Address{}, err
	}
	return addr, nil
}

// HasCode 判断 addr 上是否有代码。
func (r *Registry) HasCode(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.code[addr]
	return ok
}

// HasLogic 判断 addr 上是否有可委托执行的逻辑。
func (r *Registry) HasLogic(addr common.Address) bool {
	_, _, ok := r.lookup(addr)
	return ok
}

// Name 返回代码注册时的名称。
func (r *Registry) Name(addr common.Address) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c := r.code[addr]; c != nil {
		return c.name
	}
	return ""
}

// Receiver 返回 addr 上安装的收款回调。
func (r *Registry) Receiver(addr common.Address) (Receiver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.code[addr]
	if c == nil || c.receiver == nil {
		return nil, false
	}
	return c.receiver, true
}

// Addresses 列出所有已部署代码的地址。
func (r *Registry) Addresses() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, 0, len(r.code))
	for addr := range r.code {
		out = append(out, addr)
	}
	return out
}

func (r *Registry) lookup(addr common.Address) (Logic, Permission, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.code[addr]
	if c == nil || c.logic == nil {
		return nil, PermNone, false
	}
	return c.logic, c.perms, true
}
