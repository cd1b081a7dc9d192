package syncmeta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entity struct {
	Position [2]float64
	Rotation float64
	Level    int
}

func newEngineWithEntity() (*Engine, *entity) {
	e := NewEngine()
	obj := &entity{Position: [2]float64{0, 0}, Rotation: 0, Level: 1}
	e.Register("Avatar",
		FieldSpec{Name: "Position", Frequency: 0, Get: func(v interface{}) interface{} { return v.(*entity).Position }},
		FieldSpec{Name: "Rotation", Frequency: 0, SyncAlways: true, Get: func(v interface{}) interface{} { return v.(*entity).Rotation }},
		FieldSpec{Name: "Level", Frequency: 3, Get: func(v interface{}) interface{} { return v.(*entity).Level }},
	)
	return e, obj
}

// Position and Rotation both declare Frequency 0 ("every tick"), so they
// are emitted on every call regardless of whether their value actually
// changed; Level's Frequency 3 keeps it gated.
func TestGetChangedData_FrequencyZeroFieldsAlwaysEmit(t *testing.T) {
	eng, obj := newEngineWithEntity()
	obj.Position = [2]float64{1, 0}

	mask, data := eng.GetChangedData("Avatar", "c1", obj, 10, false)
	require.True(t, mask.IsSet(0)) // Position
	require.True(t, mask.IsSet(1)) // Rotation (syncAlways, coupled)
	assert.False(t, mask.IsSet(2)) // Level: 10%3 != 0
	assert.Equal(t, [2]float64{1, 0}, data["Position"])
	assert.Equal(t, 0.0, data["Rotation"])
	assert.NotContains(t, data, "Level")
}

// A field with Frequency=0 fires every tick: calling again without any
// state change still emits, because shouldSync is gated purely on
// frequency, not value equality.
func TestGetChangedData_FrequencyZeroIsNotValueGated(t *testing.T) {
	eng, obj := newEngineWithEntity()

	_, _ = eng.GetChangedData("Avatar", "c1", obj, 10, false)
	mask, _ := eng.GetChangedData("Avatar", "c1", obj, 11, false)
	assert.True(t, mask.IsSet(0), "Frequency 0 fields emit every call regardless of change")
}

// Level has syncFrequency=3. Mutating it at tick 5 (5%3 != 0) produces no
// emission for Level; at tick 6 (6%3 == 0) it is included.
func TestGetChangedData_FrequencyGatesEmission(t *testing.T) {
	eng, obj := newEngineWithEntity()
	obj.Level = 2

	mask, data := eng.GetChangedData("Avatar", "c1", obj, 5, false)
	assert.False(t, mask.IsSet(2))
	assert.NotContains(t, data, "Level")

	mask, data = eng.GetChangedData("Avatar", "c1", obj, 6, false)
	assert.True(t, mask.IsSet(2))
	assert.Equal(t, 2, data["Level"])
}

// A syncAlways field is emitted iff at least one non-always field was
// emitted in the same call.
func TestGetChangedData_SyncAlwaysOnlyRidesWithOtherChanges(t *testing.T) {
	eng := NewEngine()
	obj := &entity{Level: 1}
	eng.Register("OnlyAlways",
		FieldSpec{Name: "Level", Frequency: 3, SyncAlways: false, Get: func(v interface{}) interface{} { return v.(*entity).Level }},
		FieldSpec{Name: "Rotation", Frequency: 5, SyncAlways: true, Get: func(v interface{}) interface{} { return v.(*entity).Rotation }},
	)

	// tick 1: neither field's own frequency fires (1%3!=0, 1%5!=0), so no
	// non-always field was set — Rotation must not ride along.
	mask, _ := eng.GetChangedData("OnlyAlways", "c1", obj, 1, false)
	assert.False(t, mask.AnySet())

	// tick 3: Level fires (3%3==0); Rotation's own frequency (3%5!=0) still
	// doesn't, but it rides along because a non-always field was set.
	mask, data := eng.GetChangedData("OnlyAlways", "c1", obj, 3, false)
	assert.True(t, mask.IsSet(0))
	assert.True(t, mask.IsSet(1))
	assert.Contains(t, data, "Level")
	assert.Contains(t, data, "Rotation")
}

func TestGetChangedData_ForceAllSetsEveryBit(t *testing.T) {
	eng, obj := newEngineWithEntity()
	mask, data := eng.GetChangedData("Avatar", "c1", obj, 1, true)
	assert.True(t, mask.AnySet())
	for i := 0; i < 3; i++ {
		assert.True(t, mask.IsSet(i))
	}
	assert.Len(t, data, 3)
}

func TestGetChangedData_UnknownTypeReturnsNil(t *testing.T) {
	eng := NewEngine()
	mask, data := eng.GetChangedData("Nope", "c1", &entity{}, 1, false)
	assert.Nil(t, mask)
	assert.Nil(t, data)
}

func TestRegisterDerived_BaseBitsPrecedeDerived(t *testing.T) {
	eng := NewEngine()
	eng.Register("Base", FieldSpec{Name: "HP", Get: func(v interface{}) interface{} { return 1 }})
	info, err := eng.RegisterDerived("Player", "Base", FieldSpec{Name: "Name", Get: func(v interface{}) interface{} { return "x" }})
	require.NoError(t, err)
	require.Len(t, info.Fields, 2)
	assert.Equal(t, "HP", info.Fields[0].Name)
	assert.Equal(t, "Name", info.Fields[1].Name)
}

func TestRegisterDerived_UnknownBaseFails(t *testing.T) {
	eng := NewEngine()
	_, err := eng.RegisterDerived("Player", "Base")
	assert.Error(t, err)
}

func TestBitset_SetAndAnySet(t *testing.T) {
	b := NewBitset(130)
	assert.False(t, b.AnySet())
	b.Set(129)
	assert.True(t, b.AnySet())
	assert.True(t, b.IsSet(129))
	assert.False(t, b.IsSet(0))
}

func TestForget_DropsClientCursor(t *testing.T) {
	eng, obj := newEngineWithEntity()
	eng.GetChangedData("Avatar", "c1", obj, 1, false)
	eng.Forget("Avatar", "c1")
	// After forgetting, the next call rebuilds a fresh cursor rather than
	// panicking on stale state.
	mask, _ := eng.GetChangedData("Avatar", "c1", obj, 1, false)
	assert.True(t, mask.AnySet())
}
