package spatial

import (
	"fmt"
	"sync"

	"github.com/altruist-gg/altruist/internal/errors"
)

// WorldPartitioner yields the fixed set of partitions covering a
// width x height world at a given partition size.
type WorldPartitioner struct {
	PartitionSize float64
	CellSize      float64
}

// Partitions returns every partition covering a world of the given
// dimensions, laid out in a regular grid of PartitionSize x PartitionSize
// cells, each with its own SpatialGridIndex.
func (p WorldPartitioner) Partitions(width, height float64) []*Partition {
	size := p.PartitionSize
	if size <= 0 {
		size = 512
	}
	cols := int(width/size) + 1
	rows := int(height/size) + 1

	out := make([]*Partition, 0, cols*rows)
	for col := 0; col < cols; col++ {
		for row := 0; row < rows; row++ {
			pos := Vec2{X: float64(col) * size, Y: float64(row) * size}
			out = append(out, &Partition{
				Index:     PartitionIndex{Col: col, Row: row},
				Position:  pos,
				Size:      Vec2{X: size, Y: size},
				Epicenter: Vec2{X: pos.X + size/2, Y: pos.Y + size/2},
				Grid:      NewSpatialGridIndex(p.CellSize),
			})
		}
	}
	return out
}

// World is a world's identity and extent.
type World struct {
	Index  int
	Width  float64
	Height float64
}

// PhysicsStepper advances a world's physics substate (collision,
// integration) by deltaSeconds; a GameWorldManager registers one per world
// it owns.
type PhysicsStepper interface {
	Step(deltaSeconds float64)
}

// GameWorldManager owns one world's partitions and the partitionIndex →
// partition lookup.
type GameWorldManager struct {
	World World

	partitionSize float64
	mu            sync.RWMutex
	partitions    map[PartitionIndex]*Partition
	stepper       PhysicsStepper
}

// NewGameWorldManager partitions world using partitioner and returns the
// manager that owns the result.
func NewGameWorldManager(world World, partitioner WorldPartitioner) *GameWorldManager {
	m := &GameWorldManager{
		World:         world,
		partitionSize: partitioner.PartitionSize,
		partitions:    make(map[PartitionIndex]*Partition),
	}
	for _, p := range partitioner.Partitions(world.Width, world.Height) {
		m.partitions[p.Index] = p
	}
	if m.partitionSize <= 0 {
		m.partitionSize = 512
	}
	return m
}

// SetStepper installs the physics stepper invoked by Step.
func (m *GameWorldManager) SetStepper(s PhysicsStepper) { m.stepper = s }

// Step advances this world's physics substate, if a stepper is installed.
func (m *GameWorldManager) Step(deltaSeconds float64) {
	if m.stepper != nil {
		m.stepper.Step(deltaSeconds)
	}
}

// Partitions returns a snapshot of every partition this manager owns.
func (m *GameWorldManager) Partitions() []*Partition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Partition, 0, len(m.partitions))
	for _, p := range m.partitions {
		out = append(out, p)
	}
	return out
}

func (m *GameWorldManager) indexFor(x, y float64) PartitionIndex {
	return PartitionIndex{Col: int(x / m.partitionSize), Row: int(y / m.partitionSize)}
}

// FindPartitionForPosition resolves the single partition containing (x,y),
// O(1) via index division.
func (m *GameWorldManager) FindPartitionForPosition(x, y float64) (*Partition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.partitions[m.indexFor(x, y)]
	return p, ok
}

// FindPartitionsForPosition returns every partition whose AABB intersects
// the AABB of the r-disk centered at (x,y) — needed because a radius can
// straddle a partition boundary.
func (m *GameWorldManager) FindPartitionsForPosition(x, y, r float64) []*Partition {
	disk := DiskAABB(x, y, r)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Partition
	for _, p := range m.partitions {
		if p.AABB().Intersects(disk) {
			out = append(out, p)
		}
	}
	return out
}

// AddObject places meta into every partition intersecting its position.
// Static and dynamic placement differ only in whether radius is zero.
func (m *GameWorldManager) AddObject(typ string, meta *ObjectMetadata, radius float64) {
	for _, p := range m.FindPartitionsForPosition(meta.Position.X, meta.Position.Y, radius) {
		p.Grid.Add(typ, meta)
	}
}

// RemoveObject erases instanceId from every partition it currently occupies.
func (m *GameWorldManager) RemoveObject(typ, instanceID string) {
	for _, p := range m.Partitions() {
		p.Grid.Remove(typ, instanceID)
	}
}

// UpdateObjectPosition removes meta from every partition that currently
// holds it, then re-adds it to every partition intersecting its new
// position.
func (m *GameWorldManager) UpdateObjectPosition(typ string, meta *ObjectMetadata, radius float64) {
	m.RemoveObject(typ, meta.InstanceID)
	m.AddObject(typ, meta, radius)
}

// GameWorldCoordinator owns every registered world's manager and drives
// their physics steps.
type GameWorldCoordinator struct {
	mu       sync.RWMutex
	managers map[int]*GameWorldManager
}

// NewGameWorldCoordinator builds an empty coordinator.
func NewGameWorldCoordinator() *GameWorldCoordinator {
	return &GameWorldCoordinator{managers: make(map[int]*GameWorldManager)}
}

// Register adds manager under its world's index, failing if that index is
// already registered.
func (c *GameWorldCoordinator) Register(manager *GameWorldManager) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.managers[manager.World.Index]; exists {
		return errors.NewValidationError("DUPLICATE_WORLD_INDEX", "world index already registered",
			fmt.Sprintf("world %d", manager.World.Index))
	}
	c.managers[manager.World.Index] = manager
	return nil
}

// Manager returns the manager registered for worldIndex.
func (c *GameWorldCoordinator) Manager(worldIndex int) (*GameWorldManager, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.managers[worldIndex]
	return m, ok
}

// Step advances every registered world's physics substate by deltaSeconds,
// called once per physics-goroutine tick.
func (c *GameWorldCoordinator) Step(deltaSeconds float64) {
	c.mu.RLock()
	managers := make([]*GameWorldManager, 0, len(c.managers))
	for _, m := range c.managers {
		managers = append(managers, m)
	}
	c.mu.RUnlock()

	for _, m := range managers {
		m.Step(deltaSeconds)
	}
}
