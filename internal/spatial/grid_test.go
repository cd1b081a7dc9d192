package spatial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cellSize=16, one object at (10,10) and one at (100,10) in room "r";
// query(10,10,20,r) returns exactly one (the coincident object);
// query(10,10,95,r) returns both.
func TestSpatialGridIndex_QueryExactDistance(t *testing.T) {
	grid := NewSpatialGridIndex(16)
	near := &ObjectMetadata{Type: "player", InstanceID: "near", RoomID: "r", Position: Vec2{X: 10, Y: 10}}
	far := &ObjectMetadata{Type: "player", InstanceID: "far", RoomID: "r", Position: Vec2{X: 100, Y: 10}}
	grid.Add("player", near)
	grid.Add("player", far)

	close := grid.Query("player", 10, 10, 20, "r")
	require.Len(t, close, 1)
	assert.Equal(t, "near", close[0].InstanceID)

	both := grid.Query("player", 10, 10, 95, "r")
	assert.Len(t, both, 2)
}

func TestSpatialGridIndex_QueryFiltersByRoomAndType(t *testing.T) {
	grid := NewSpatialGridIndex(16)
	grid.Add("player", &ObjectMetadata{Type: "player", InstanceID: "p1", RoomID: "r1", Position: Vec2{X: 0, Y: 0}})
	grid.Add("npc", &ObjectMetadata{Type: "npc", InstanceID: "n1", RoomID: "r1", Position: Vec2{X: 0, Y: 0}})
	grid.Add("player", &ObjectMetadata{Type: "player", InstanceID: "p2", RoomID: "r2", Position: Vec2{X: 0, Y: 0}})

	res := grid.Query("player", 0, 0, 5, "r1")
	require.Len(t, res, 1)
	assert.Equal(t, "p1", res[0].InstanceID)
}

func TestSpatialGridIndex_RemoveErasesFromAllIndices(t *testing.T) {
	grid := NewSpatialGridIndex(16)
	meta := &ObjectMetadata{Type: "player", InstanceID: "p1", RoomID: "r1", Position: Vec2{X: 5, Y: 5}}
	grid.Add("player", meta)
	grid.Remove("player", "p1")

	_, ok := grid.Get("p1")
	assert.False(t, ok)
	assert.Empty(t, grid.Query("player", 5, 5, 10, "r1"))
}

func TestGameWorldManager_FindPartitionForPosition(t *testing.T) {
	mgr := NewGameWorldManager(World{Index: 0, Width: 1024, Height: 1024}, WorldPartitioner{PartitionSize: 512, CellSize: 32})

	p, ok := mgr.FindPartitionForPosition(10, 10)
	require.True(t, ok)
	assert.Equal(t, PartitionIndex{Col: 0, Row: 0}, p.Index)

	p2, ok := mgr.FindPartitionForPosition(600, 600)
	require.True(t, ok)
	assert.Equal(t, PartitionIndex{Col: 1, Row: 1}, p2.Index)
}

func TestGameWorldManager_UpdateObjectPositionMovesAcrossPartitions(t *testing.T) {
	mgr := NewGameWorldManager(World{Index: 0, Width: 1024, Height: 1024}, WorldPartitioner{PartitionSize: 512, CellSize: 32})

	meta := &ObjectMetadata{Type: "player", InstanceID: "p1", RoomID: "r1", Position: Vec2{X: 10, Y: 10}}
	mgr.AddObject("player", meta, 0)

	origin, _ := mgr.FindPartitionForPosition(10, 10)
	assert.Len(t, origin.Grid.Query("player", 10, 10, 1, "r1"), 1)

	meta.Position = Vec2{X: 600, Y: 600}
	mgr.UpdateObjectPosition("player", meta, 0)

	assert.Empty(t, origin.Grid.Query("player", 10, 10, 1, "r1"))
	dest, _ := mgr.FindPartitionForPosition(600, 600)
	assert.Len(t, dest.Grid.Query("player", 600, 600, 1, "r1"), 1)
}

func TestGameWorldManager_DynamicObjectStraddlesPartitions(t *testing.T) {
	mgr := NewGameWorldManager(World{Index: 0, Width: 1024, Height: 1024}, WorldPartitioner{PartitionSize: 512, CellSize: 32})

	// Sits right on the boundary between (0,0) and (1,0); radius 50 straddles both.
	meta := &ObjectMetadata{Type: "player", InstanceID: "p1", RoomID: "r1", Position: Vec2{X: 510, Y: 10}}
	mgr.AddObject("player", meta, 50)

	left, _ := mgr.FindPartitionForPosition(480, 10)
	right, _ := mgr.FindPartitionForPosition(520, 10)
	assert.NotEmpty(t, left.Grid.Query("player", 510, 10, 50, "r1"))
	assert.NotEmpty(t, right.Grid.Query("player", 510, 10, 50, "r1"))
}

type fakeStepper struct{ calls int }

func (f *fakeStepper) Step(dt float64) { f.calls++ }

func TestGameWorldCoordinator_RegisterRejectsDuplicates(t *testing.T) {
	c := NewGameWorldCoordinator()
	m1 := NewGameWorldManager(World{Index: 0, Width: 100, Height: 100}, WorldPartitioner{PartitionSize: 50, CellSize: 10})
	m2 := NewGameWorldManager(World{Index: 0, Width: 100, Height: 100}, WorldPartitioner{PartitionSize: 50, CellSize: 10})

	require.NoError(t, c.Register(m1))
	assert.Error(t, c.Register(m2))
}

func TestGameWorldCoordinator_StepDrivesEveryWorld(t *testing.T) {
	c := NewGameWorldCoordinator()
	m := NewGameWorldManager(World{Index: 0, Width: 100, Height: 100}, WorldPartitioner{PartitionSize: 50, CellSize: 10})
	stepper := &fakeStepper{}
	m.SetStepper(stepper)
	require.NoError(t, c.Register(m))

	c.Step(0.016)
	c.Step(0.016)
	assert.Equal(t, 2, stepper.calls)
}
