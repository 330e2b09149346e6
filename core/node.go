package core

import (
	"errors"
	"math/big"
	"sync"

	"paystream/core/events"
	"paystream/core/types"
	"paystream/native/stream"
	"paystream/native/token"
	"paystream/state"
	"paystream/storage"
)

var errNilNode = errors.New("node not initialised")

// GenesisAlloc seeds a balance for an account at first start.
type GenesisAlloc struct {
	Asset   string
	Address [20]byte
	Balance *big.Int
}

// Node owns the ledger: the database, the state manager, the token vault and
// the stream engine. A single mutex totally orders operations against the
// state, so no two operations ever observe the same uncommitted snapshot.
type Node struct {
	stateMu sync.Mutex
	db      storage.Database
	state   *state.Manager
	vault   *token.Vault
	engine  *stream.Engine

	eventMu      sync.Mutex
	eventSeq     uint64
	eventNextSub uint64
	eventSubs    map[uint64]chan EventUpdate
	eventHistory []EventUpdate
}

// NewNode wires a node on top of the given database.
func NewNode(db storage.Database) *Node {
	manager := state.NewManager(db)
	vault := token.NewVault(manager)
	engine := stream.NewEngine()
	engine.SetState(manager)
	engine.SetGateway(vault)
	node := &Node{
		db:     db,
		state:  manager,
		vault:  vault,
		engine: engine,
	}
	engine.SetEmitter(node)
	return node
}

// SetNowFunc overrides the ledger clock. Primarily intended for tests.
func (n *Node) SetNowFunc(now func() uint64) {
	n.engine.SetNowFunc(now)
}

// Emit implements events.Emitter: every engine event is appended to the
// bounded history and fanned out to subscribers.
func (n *Node) Emit(evt events.Event) {
	payloadCarrier, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	payload := payloadCarrier.Event()
	if payload == nil {
		return
	}
	n.publishEvent(payload)
}

// ApplyGenesis mints the configured allocations exactly once per database.
func (n *Node) ApplyGenesis(allocs []GenesisAlloc) error {
	if n == nil {
		return errNilNode
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	applied, err := n.state.GenesisApplied()
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	if err := n.state.Begin(); err != nil {
		return err
	}
	for _, alloc := range allocs {
		if err := n.vault.Mint(alloc.Asset, alloc.Address, alloc.Balance); err != nil {
			n.state.Discard()
			return err
		}
	}
	if err := n.state.SetGenesisApplied(); err != nil {
		n.state.Discard()
		return err
	}
	return n.state.Commit()
}

// StreamCreate opens a new stream funded by sender and returns its id.
func (n *Node) StreamCreate(sender, recipient [20]byte, deposit *big.Int, asset string, startTime, stopTime uint64, cancelFee *big.Int) (uint64, error) {
	if n == nil {
		return 0, errNilNode
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	record, err := n.engine.Create(sender, recipient, deposit, asset, startTime, stopTime, cancelFee)
	if err != nil {
		return 0, err
	}
	return record.ID, nil
}

// StreamWithdraw pays part of the recipient's entitlement out of a stream.
func (n *Node) StreamWithdraw(id uint64, amount *big.Int, caller [20]byte) error {
	if n == nil {
		return errNilNode
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.Withdraw(id, amount, caller)
}

// StreamCancel settles and deletes a stream.
func (n *Node) StreamCancel(id uint64, caller [20]byte) error {
	if n == nil {
		return errNilNode
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.Cancel(id, caller)
}

// StreamGet returns a snapshot of a live stream.
func (n *Node) StreamGet(id uint64) (*stream.Stream, error) {
	if n == nil {
		return nil, errNilNode
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.Get(id)
}

// StreamDelta returns the elapsed vesting seconds of a live stream.
func (n *Node) StreamDelta(id uint64) (uint64, error) {
	if n == nil {
		return 0, errNilNode
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.DeltaOf(id)
}

// StreamBalanceOf returns the current entitlement of an address.
func (n *Node) StreamBalanceOf(id uint64, who [20]byte) (*big.Int, error) {
	if n == nil {
		return nil, errNilNode
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.engine.BalanceOf(id, who)
}

// TokenApprove sets the allowance owner grants to spender.
func (n *Node) TokenApprove(asset string, owner, spender [20]byte, amount *big.Int) error {
	if n == nil {
		return errNilNode
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.vault.Approve(asset, owner, spender, amount)
}

// TokenBalanceOf returns the vault balance of an account.
func (n *Node) TokenBalanceOf(asset string, addr [20]byte) (*big.Int, error) {
	if n == nil {
		return nil, errNilNode
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.vault.BalanceOf(asset, addr)
}

// TokenCustodyAddress reports the custody account for an asset.
func (n *Node) TokenCustodyAddress(asset string) [20]byte {
	return n.vault.CustodyAddress(asset)
}

// Close releases the underlying database.
func (n *Node) Close() {
	if n == nil || n.db == nil {
		return
	}
	n.db.Close()
}
