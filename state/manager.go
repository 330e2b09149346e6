package state

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"paystream/native/stream"
	"paystream/storage"
)

var (
	streamRecordPrefix = []byte("stream/record/")
	streamCounterKey   = []byte("stream/nextid")
	tokenAccountPrefix = []byte("token/acct/")
	tokenAllowPrefix   = []byte("token/allow/")
	genesisAppliedKey  = []byte("genesis/applied")
)

var (
	errTxnActive   = errors.New("state: transaction already active")
	errNoTxn       = errors.New("state: no active transaction")
	errNilManager  = errors.New("state: manager not initialised")
	errCounterWrap = errors.New("state: stream id counter exhausted")
)

type overlayEntry struct {
	value   []byte
	deleted bool
}

// Manager provides typed access to ledger state over a raw key-value
// database. Writes performed between Begin and Commit are buffered in an
// overlay; Discard drops them without touching the database. The execution
// model is serial, so at most one transaction is active at a time.
type Manager struct {
	mu      sync.Mutex
	db      storage.Database
	overlay map[string]overlayEntry
}

// NewManager constructs a state manager bound to the given database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Begin opens a write overlay. All subsequent writes are buffered until
// Commit or Discard.
func (m *Manager) Begin() error {
	if m == nil || m.db == nil {
		return errNilManager
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.overlay != nil {
		return errTxnActive
	}
	m.overlay = make(map[string]overlayEntry)
	return nil
}

// Commit flushes the overlay to the database and closes the transaction.
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.overlay == nil {
		return errNoTxn
	}
	for key, entry := range m.overlay {
		if entry.deleted {
			if err := m.db.Delete([]byte(key)); err != nil {
				return fmt.Errorf("state: commit delete %q: %w", key, err)
			}
			continue
		}
		if err := m.db.Put([]byte(key), entry.value); err != nil {
			return fmt.Errorf("state: commit put %q: %w", key, err)
		}
	}
	m.overlay = nil
	return nil
}

// Discard drops the overlay without writing anything. Safe to call when no
// transaction is active.
func (m *Manager) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overlay = nil
}

func (m *Manager) kvGet(key []byte) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.overlay != nil {
		if entry, ok := m.overlay[string(key)]; ok {
			if entry.deleted {
				return nil, false, nil
			}
			return entry.value, true, nil
		}
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *Manager) kvPut(key []byte, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.overlay != nil {
		m.overlay[string(key)] = overlayEntry{value: value}
		return nil
	}
	return m.db.Put(key, value)
}

func (m *Manager) kvDelete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.overlay != nil {
		m.overlay[string(key)] = overlayEntry{deleted: true}
		return nil
	}
	return m.db.Delete(key)
}

func streamKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return append(append([]byte{}, streamRecordPrefix...), buf[:]...)
}

func tokenAccountKey(asset string, addr [20]byte) []byte {
	key := append(append([]byte{}, tokenAccountPrefix...), asset...)
	key = append(key, '/')
	return append(key, hex.EncodeToString(addr[:])...)
}

func tokenAllowanceKey(asset string, owner, spender [20]byte) []byte {
	key := append(append([]byte{}, tokenAllowPrefix...), asset...)
	key = append(key, '/')
	key = append(key, hex.EncodeToString(owner[:])...)
	key = append(key, '/')
	return append(key, hex.EncodeToString(spender[:])...)
}

// storedStream is the RLP representation of a stream record. Amounts are
// kept as big.Int so no precision is lost on round trips.
type storedStream struct {
	ID               uint64
	Sender           [20]byte
	Recipient        [20]byte
	Asset            string
	Deposit          *big.Int
	RatePerSecond    *big.Int
	StartTime        uint64
	StopTime         uint64
	RemainingBalance *big.Int
	CancelFee        *big.Int
}

// StreamPut persists a sanitised copy of the stream record.
func (m *Manager) StreamPut(s *stream.Stream) error {
	sanitized, err := stream.SanitizeStream(s)
	if err != nil {
		return err
	}
	stored := storedStream{
		ID:               sanitized.ID,
		Sender:           sanitized.Sender,
		Recipient:        sanitized.Recipient,
		Asset:            sanitized.Asset,
		Deposit:          sanitized.Deposit,
		RatePerSecond:    sanitized.RatePerSecond,
		StartTime:        sanitized.StartTime,
		StopTime:         sanitized.StopTime,
		RemainingBalance: sanitized.RemainingBalance,
		CancelFee:        sanitized.CancelFee,
	}
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return fmt.Errorf("state: encode stream %d: %w", sanitized.ID, err)
	}
	return m.kvPut(streamKey(sanitized.ID), encoded)
}

// StreamGet loads a stream record. Absence is reported explicitly; a missing
// record is never confused with a zero-valued one.
func (m *Manager) StreamGet(id uint64) (*stream.Stream, bool, error) {
	raw, ok, err := m.kvGet(streamKey(id))
	if err != nil || !ok {
		return nil, false, err
	}
	var stored storedStream
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("state: decode stream %d: %w", id, err)
	}
	record := &stream.Stream{
		ID:               stored.ID,
		Sender:           stored.Sender,
		Recipient:        stored.Recipient,
		Asset:            stored.Asset,
		Deposit:          stored.Deposit,
		RatePerSecond:    stored.RatePerSecond,
		StartTime:        stored.StartTime,
		StopTime:         stored.StopTime,
		RemainingBalance: stored.RemainingBalance,
		CancelFee:        stored.CancelFee,
	}
	return record, true, nil
}

// StreamDelete removes a stream record entirely.
func (m *Manager) StreamDelete(id uint64) error {
	return m.kvDelete(streamKey(id))
}

// StreamNextID allocates the next sequential stream identifier, starting at
// 1. Identifiers are never reused.
func (m *Manager) StreamNextID() (uint64, error) {
	raw, ok, err := m.kvGet(streamCounterKey)
	if err != nil {
		return 0, err
	}
	next := uint64(1)
	if ok {
		if err := rlp.DecodeBytes(raw, &next); err != nil {
			return 0, fmt.Errorf("state: decode stream counter: %w", err)
		}
	}
	if next+1 < next {
		return 0, errCounterWrap
	}
	encoded, err := rlp.EncodeToBytes(next + 1)
	if err != nil {
		return 0, err
	}
	if err := m.kvPut(streamCounterKey, encoded); err != nil {
		return 0, err
	}
	return next, nil
}

// TokenBalance returns the stored balance for an account, zero when absent.
func (m *Manager) TokenBalance(asset string, addr [20]byte) (*big.Int, error) {
	return m.loadAmount(tokenAccountKey(asset, addr))
}

// TokenSetBalance stores an account balance. Negative balances are a
// programming error and rejected outright.
func (m *Manager) TokenSetBalance(asset string, addr [20]byte, amount *big.Int) error {
	return m.storeAmount(tokenAccountKey(asset, addr), amount)
}

// TokenAllowance returns the owner-to-spender allowance, zero when absent.
func (m *Manager) TokenAllowance(asset string, owner, spender [20]byte) (*big.Int, error) {
	return m.loadAmount(tokenAllowanceKey(asset, owner, spender))
}

// TokenSetAllowance stores an owner-to-spender allowance.
func (m *Manager) TokenSetAllowance(asset string, owner, spender [20]byte, amount *big.Int) error {
	return m.storeAmount(tokenAllowanceKey(asset, owner, spender), amount)
}

// GenesisApplied reports whether genesis allocations were already minted.
func (m *Manager) GenesisApplied() (bool, error) {
	_, ok, err := m.kvGet(genesisAppliedKey)
	return ok, err
}

// SetGenesisApplied marks genesis allocations as minted.
func (m *Manager) SetGenesisApplied() error {
	return m.kvPut(genesisAppliedKey, []byte{1})
}

func (m *Manager) loadAmount(key []byte) (*big.Int, error) {
	raw, ok, err := m.kvGet(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(raw, amount); err != nil {
		return nil, fmt.Errorf("state: decode amount %q: %w", key, err)
	}
	return amount, nil
}

func (m *Manager) storeAmount(key []byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative amount for %q", key)
	}
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return m.kvPut(key, encoded)
}
