package stream

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"paystream/core/events"
	"paystream/core/types"
)

var (
	errNilState   = errors.New("stream engine: state not configured")
	errNilGateway = errors.New("stream engine: transfer gateway not configured")
)

// engineState is the slice of ledger state the engine needs: the stream
// records, the id counter, and transaction control. Every mutating operation
// runs inside one Begin/Commit pair; Discard rolls back all of its writes,
// including any the transfer gateway made through the same state.
type engineState interface {
	StreamPut(*Stream) error
	StreamGet(id uint64) (*Stream, bool, error)
	StreamDelete(id uint64) error
	StreamNextID() (uint64, error)
	Begin() error
	Commit() error
	Discard()
}

// TransferGateway moves value on behalf of the ledger. It is an external
// collaborator: either call may fail, and failure aborts the enclosing
// operation in full.
type TransferGateway interface {
	// TransferIn pulls amount of asset from the payer into custody. The
	// payer must have granted the custody account a sufficient allowance.
	TransferIn(asset string, from [20]byte, amount *big.Int) error
	// TransferOut pays amount of asset out of custody.
	TransferOut(asset string, to [20]byte, amount *big.Int) error
	// CustodyAddress reports the account holding custody for an asset.
	CustodyAddress(asset string) [20]byte
}

// Engine owns the stream ledger: creation, withdrawal, cancellation and the
// read-only queries. State access, value movement, event emission and the
// clock are all injected so the engine can be exercised in isolation.
type Engine struct {
	state   engineState
	gateway TransferGateway
	emitter events.Emitter
	nowFn   func() uint64
	guard   reentrancyGuard
}

// NewEngine creates a stream engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   defaultNow,
	}
}

func defaultNow() uint64 {
	return uint64(time.Now().Unix())
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetGateway configures the transfer gateway used to move value.
func (e *Engine) SetGateway(gateway TransferGateway) { e.gateway = gateway }

// SetNowFunc overrides the time source used by the engine. Primarily
// intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() uint64) {
	if now == nil {
		e.nowFn = defaultNow
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

type streamEvent struct {
	evt *types.Event
}

func (s streamEvent) EventType() string {
	if s.evt == nil {
		return ""
	}
	return s.evt.Type
}

func (s streamEvent) Event() *types.Event { return s.evt }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(streamEvent{evt: event})
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return defaultNow()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.gateway == nil {
		return errNilGateway
	}
	return nil
}

func (e *Engine) loadStream(id uint64) (*Stream, error) {
	record, ok, err := e.state.StreamGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return record, nil
}

// Create validates the parameters, persists a new stream record under the
// next sequential id and pulls the deposit into custody. The record is
// written before the gateway call; if the pull fails the whole transaction
// is discarded, so no tentative record survives.
func (e *Engine) Create(sender, recipient [20]byte, deposit *big.Int, asset string, startTime, stopTime uint64, cancelFee *big.Int) (*Stream, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	release, err := e.guard.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	normalizedAsset, err := NormalizeAsset(asset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	custody := e.gateway.CustodyAddress(normalizedAsset)
	if sender == ([20]byte{}) || sender == custody {
		return nil, ErrInvalidSender
	}
	if recipient == ([20]byte{}) || recipient == sender || recipient == custody {
		return nil, ErrInvalidRecipient
	}
	if deposit == nil || deposit.Sign() <= 0 {
		return nil, ErrZeroDeposit
	}
	now := e.now()
	if startTime < now {
		return nil, ErrStartInPast
	}
	if stopTime <= startTime {
		return nil, ErrStopBeforeStart
	}
	duration := new(big.Int).SetUint64(stopTime - startTime)
	if deposit.Cmp(duration) < 0 {
		return nil, ErrDepositTooSmall
	}
	rate, remainder := new(big.Int).QuoRem(deposit, duration, new(big.Int))
	if remainder.Sign() != 0 {
		return nil, ErrInexactRate
	}
	fee := cloneBigInt(cancelFee)
	if fee.Sign() < 0 || fee.Cmp(deposit) >= 0 {
		return nil, ErrFeeOutOfRange
	}

	if err := e.state.Begin(); err != nil {
		return nil, err
	}
	id, err := e.state.StreamNextID()
	if err != nil {
		e.state.Discard()
		return nil, err
	}
	record := &Stream{
		ID:               id,
		Sender:           sender,
		Recipient:        recipient,
		Asset:            normalizedAsset,
		Deposit:          cloneBigInt(deposit),
		RatePerSecond:    rate,
		StartTime:        startTime,
		StopTime:         stopTime,
		RemainingBalance: cloneBigInt(deposit),
		CancelFee:        fee,
	}
	if err := e.state.StreamPut(record); err != nil {
		e.state.Discard()
		return nil, err
	}
	if err := e.gateway.TransferIn(normalizedAsset, sender, record.Deposit); err != nil {
		e.state.Discard()
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.state.Commit(); err != nil {
		e.state.Discard()
		return nil, err
	}
	e.emit(NewCreatedEvent(record))
	return record.Clone(), nil
}

// Withdraw pays amount of the stream's asset to the recipient. Either party
// may trigger the payout; the amount is always denominated against the
// recipient's entitlement. Reaching a remaining balance of exactly zero
// deletes the record.
func (e *Engine) Withdraw(id uint64, amount *big.Int, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	release, err := e.guard.enter()
	if err != nil {
		return err
	}
	defer release()

	record, err := e.loadStream(id)
	if err != nil {
		return err
	}
	if caller != record.Sender && caller != record.Recipient {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInsufficientBalance)
	}
	available, err := RecipientBalance(record, e.now())
	if err != nil {
		return err
	}
	if amount.Cmp(available) > 0 {
		return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientBalance, amount, available)
	}

	if err := e.state.Begin(); err != nil {
		return err
	}
	record.RemainingBalance = new(big.Int).Sub(record.RemainingBalance, amount)
	if record.RemainingBalance.Sign() == 0 {
		err = e.state.StreamDelete(record.ID)
	} else {
		err = e.state.StreamPut(record)
	}
	if err != nil {
		e.state.Discard()
		return err
	}
	if err := e.gateway.TransferOut(record.Asset, record.Recipient, amount); err != nil {
		e.state.Discard()
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.state.Commit(); err != nil {
		e.state.Discard()
		return err
	}
	e.emit(NewWithdrawnEvent(record, amount))
	return nil
}

// Cancel settles the stream at the current instant and deletes the record
// unconditionally. The recipient receives their entitlement plus the cancel
// fee; the sender reclaims the rest. The fee only reallocates value between
// the two shares, so the total disbursed always equals the pre-fee sum.
func (e *Engine) Cancel(id uint64, caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	release, err := e.guard.enter()
	if err != nil {
		return err
	}
	defer release()

	record, err := e.loadStream(id)
	if err != nil {
		return err
	}
	if caller != record.Sender && caller != record.Recipient {
		return ErrUnauthorized
	}
	now := e.now()
	recipientBalance, err := RecipientBalance(record, now)
	if err != nil {
		return err
	}
	senderBalance, err := SenderBalance(record, now)
	if err != nil {
		return err
	}
	// The fee comes out of the sender's cancel-time share, so it can never
	// exceed that share: a near-deposit fee cancelled late in the stream is
	// clamped rather than underflowing the sender payout.
	effectiveFee := new(big.Int).Set(record.CancelFee)
	if effectiveFee.Cmp(senderBalance) > 0 {
		effectiveFee.Set(senderBalance)
	}
	recipientPayout := new(big.Int).Add(recipientBalance, effectiveFee)
	senderPayout := new(big.Int).Sub(senderBalance, effectiveFee)

	if err := e.state.Begin(); err != nil {
		return err
	}
	if err := e.state.StreamDelete(record.ID); err != nil {
		e.state.Discard()
		return err
	}
	if recipientPayout.Sign() > 0 {
		if err := e.gateway.TransferOut(record.Asset, record.Recipient, recipientPayout); err != nil {
			e.state.Discard()
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	}
	if senderPayout.Sign() > 0 {
		if err := e.gateway.TransferOut(record.Asset, record.Sender, senderPayout); err != nil {
			e.state.Discard()
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	}
	if err := e.state.Commit(); err != nil {
		e.state.Discard()
		return err
	}
	e.emit(NewCancelledEvent(record, senderBalance, recipientBalance, effectiveFee))
	return nil
}

// Get returns a snapshot of a live stream record.
func (e *Engine) Get(id uint64) (*Stream, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, err := e.loadStream(id)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// DeltaOf returns the elapsed vesting seconds for a live stream.
func (e *Engine) DeltaOf(id uint64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	record, err := e.loadStream(id)
	if err != nil {
		return 0, err
	}
	return Elapsed(record, e.now()), nil
}

// BalanceOf returns the current entitlement of an address against a live
// stream: the recipient's withdrawable share, the sender's reclaimable
// share, or zero for anyone else.
func (e *Engine) BalanceOf(id uint64, who [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, err := e.loadStream(id)
	if err != nil {
		return nil, err
	}
	return BalanceOf(record, who, e.now())
}
