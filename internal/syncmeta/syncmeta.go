// Package syncmeta implements the delta synchronization engine:
// per-entity-type field registration, a per-client cursor of last-broadcast
// values, and GetChangedData, which turns an entity's current state into
// the set of fields due for a given client this tick. Which fields are due
// is decided by each field's frequency, not by comparing against the values
// last sent to that client.
package syncmeta

import (
	"fmt"
	"reflect"
	"sync"
)

// FieldSpec describes one syncable field of an entity type. The bit index
// is assigned by the Engine at registration time (concatenation order), not
// supplied here, so base-type fields always precede derived-type fields.
type FieldSpec struct {
	// Name is both the map key written into SyncPacket.Data and the field's
	// identity for lastValues bookkeeping.
	Name string
	// SyncAlways fields ride along whenever any other field of the same
	// entity changes, regardless of their own Frequency.
	SyncAlways bool
	// OneTime fields are intended to sync once (e.g. on join) and are left to
	// the caller to gate via forceAll; the engine itself treats OneTime as
	// documentation only — it does not suppress subsequent sync attempts.
	OneTime bool
	// Frequency is a tick-count divisor: the field is eligible to sync on
	// every tick where currentTick % Frequency == 0. Zero means "every tick".
	Frequency int64
	// Get extracts the field's current value from an entity instance.
	Get func(entity interface{}) interface{}
}

// TypeInfo is the flattened, bit-indexed field layout for one registered
// entity type.
type TypeInfo struct {
	Name   string
	Fields []FieldSpec
}

// FieldCount is also the bitset size needed for this type's masks.
func (t *TypeInfo) FieldCount() int { return len(t.Fields) }

// Bitset is a packed bit-per-field changed mask, sized ceil(fieldCount/64)
// words.
type Bitset []uint64

// NewBitset allocates a zeroed Bitset sized for fieldCount fields.
func NewBitset(fieldCount int) Bitset {
	return make(Bitset, (fieldCount+63)/64)
}

func (b Bitset) Set(i int) { b[i/64] |= 1 << uint(i%64) }

func (b Bitset) IsSet(i int) bool { return b[i/64]&(1<<uint(i%64)) != 0 }

// AnySet reports whether any bit in the set is 1 — an empty mask means
// GetChangedData found nothing worth sending.
func (b Bitset) AnySet() bool {
	for _, w := range b {
		if w != 0 {
			return true
		}
	}
	return false
}

// clientState is the per-(entityType, clientId) sync cursor: the last
// values broadcast to this client, and scratch space for the properties
// changed on the most recent GetChangedData call.
type clientState struct {
	mu           sync.Mutex
	lastValues   []interface{}
	changedProps map[string]interface{}
}

// Engine owns the registered entity type layouts and every client's sync
// cursor.
type Engine struct {
	mu     sync.RWMutex
	types  map[string]*TypeInfo
	states sync.Map // "entityType\x00clientId" -> *clientState
}

// NewEngine builds an empty Engine.
func NewEngine() *Engine {
	return &Engine{types: make(map[string]*TypeInfo)}
}

// Register declares typeName's syncable fields, assigning bit indices in the
// order given.
func (e *Engine) Register(typeName string, fields ...FieldSpec) *TypeInfo {
	info := &TypeInfo{Name: typeName, Fields: fields}
	e.mu.Lock()
	e.types[typeName] = info
	e.mu.Unlock()
	return info
}

// RegisterDerived registers typeName as baseTypeName plus ownFields, so the
// derived type's bitset is the base type's fields followed by its own — base
// bits stay stable across every type that embeds that base.
func (e *Engine) RegisterDerived(typeName, baseTypeName string, ownFields ...FieldSpec) (*TypeInfo, error) {
	e.mu.RLock()
	base, ok := e.types[baseTypeName]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("syncmeta: base type %q not registered", baseTypeName)
	}
	fields := make([]FieldSpec, 0, len(base.Fields)+len(ownFields))
	fields = append(fields, base.Fields...)
	fields = append(fields, ownFields...)
	return e.Register(typeName, fields...), nil
}

// TypeInfo returns the registered layout for typeName.
func (e *Engine) TypeInfo(typeName string) (*TypeInfo, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	info, ok := e.types[typeName]
	return info, ok
}

func stateKey(entityType, clientID string) string {
	return entityType + "\x00" + clientID
}

func (e *Engine) clientState(entityType, clientID string, fieldCount int) *clientState {
	key := stateKey(entityType, clientID)
	if v, ok := e.states.Load(key); ok {
		return v.(*clientState)
	}
	cs := &clientState{
		lastValues:   make([]interface{}, fieldCount),
		changedProps: make(map[string]interface{}),
	}
	actual, _ := e.states.LoadOrStore(key, cs)
	return actual.(*clientState)
}

// Forget drops clientID's cursor for entityType, e.g. once the client
// disconnects or leaves the room the entity belongs to.
func (e *Engine) Forget(entityType, clientID string) {
	e.states.Delete(stateKey(entityType, clientID))
}

// GetChangedData computes the delta entity has accrued since clientID's last
// sync:
//  1. For each field, fetch its current value and decide shouldSync =
//     forceAll || frequency == 0 || currentTick % frequency == 0.
//  2. SyncAlways fields are remembered regardless of their own shouldSync.
//  3. If any non-always field was set, every remembered SyncAlways field is
//     also set and copied in, even if its own frequency didn't fire this
//     tick.
//
// GetChangedData is frequency-gated only: it does not compare against the
// client's last-seen value before deciding shouldSync.
func (e *Engine) GetChangedData(entityType, clientID string, entity interface{}, currentTick int64, forceAll bool) (Bitset, map[string]interface{}) {
	e.mu.RLock()
	info, ok := e.types[entityType]
	e.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	cs := e.clientState(entityType, clientID, len(info.Fields))
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for k := range cs.changedProps {
		delete(cs.changedProps, k)
	}
	mask := NewBitset(len(info.Fields))

	type alwaysField struct {
		index int
		value interface{}
	}
	var always []alwaysField
	anyNonAlways := false

	for i, f := range info.Fields {
		val := f.Get(entity)
		shouldSync := forceAll || f.Frequency == 0 || (f.Frequency > 0 && currentTick%f.Frequency == 0)

		if f.SyncAlways {
			always = append(always, alwaysField{index: i, value: val})
		}

		if shouldSync {
			mask.Set(i)
			cs.changedProps[f.Name] = val
			cs.lastValues[i] = cloneValue(val)
			if !f.SyncAlways {
				anyNonAlways = true
			}
		}
	}

	if anyNonAlways {
		for _, a := range always {
			if mask.IsSet(a.index) {
				continue
			}
			mask.Set(a.index)
			f := info.Fields[a.index]
			cs.changedProps[f.Name] = a.value
			cs.lastValues[a.index] = cloneValue(a.value)
		}
	}

	if !mask.AnySet() {
		return mask, nil
	}

	out := make(map[string]interface{}, len(cs.changedProps))
	for k, v := range cs.changedProps {
		out[k] = v
	}
	return mask, out
}

// cloneValue duplicates slice values so a later in-place mutation of the
// entity's field doesn't retroactively change what was recorded as "last
// sent" — scalars and strings are immutable in Go and can be shared as-is.
func cloneValue(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.IsNil() {
		return v
	}
	clone := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
	reflect.Copy(clone, rv)
	return clone.Interface()
}
