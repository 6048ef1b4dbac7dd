package loom

import (
	"reflect"
	"sync"

	"github.com/TheBitDrifter/bark"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ComponentID is the dense, small integer assigned to a component type at
// registration. The id set is closed per process: once BitMaskWidth ids
// have been handed out, further registration fails fatally.
type ComponentID uint16

// ComponentTypeInfo is the only runtime metadata loom keeps per component
// type: its dense id, byte size, and required alignment, plus an optional
// stable 128-bit GUID for a future cross-process mapping layer. It is
// produced once at registration and never mutated afterward.
type ComponentTypeInfo struct {
	ID     ComponentID
	Name   string
	Size   uintptr
	Align  uintptr
	GUID   uuid.UUID
	IsZero bool // true for zero-size "tag" components
}

// Component is implemented by every registered component handle. It is the
// analogue of the teacher's table.ElementType: a one-method marker that
// lets callers pass typed component handles into generic World and Query
// APIs without reflection on the hot path.
type Component interface {
	ComponentID() ComponentID
}

var componentTypes = struct {
	mu     sync.RWMutex
	infos  []ComponentTypeInfo
	byType map[reflect.Type]ComponentID
}{
	byType: make(map[reflect.Type]ComponentID),
}

// registerComponentType interns rt, returning its existing id if already
// registered. It is the only place ComponentID values are minted, so the
// id set is dense and stable for the process lifetime.
func registerComponentType(rt reflect.Type) ComponentID {
	componentTypes.mu.RLock()
	if id, ok := componentTypes.byType[rt]; ok {
		componentTypes.mu.RUnlock()
		return id
	}
	componentTypes.mu.RUnlock()

	componentTypes.mu.Lock()
	defer componentTypes.mu.Unlock()

	if id, ok := componentTypes.byType[rt]; ok {
		return id
	}

	id := ComponentID(len(componentTypes.infos))
	if int(id) >= Config.BitMaskWidth {
		panic(bark.AddTrace(MaskOverflowError{ComponentID: id, Width: Config.BitMaskWidth}))
	}

	info := ComponentTypeInfo{
		ID:     id,
		Name:   rt.String(),
		Size:   rt.Size(),
		Align:  uintptr(rt.Align()),
		GUID:   uuid.New(),
		IsZero: rt.Size() == 0,
	}
	componentTypes.infos = append(componentTypes.infos, info)
	componentTypes.byType[rt] = id

	log.WithFields(logrus.Fields{
		"component_id": id,
		"name":         info.Name,
		"size":         info.Size,
		"align":        info.Align,
	}).Debug("component registered")

	return id
}

// ComponentTypeInfos returns a snapshot of every registered component's
// metadata, indexed by ComponentID.
func ComponentTypeInfos() []ComponentTypeInfo {
	componentTypes.mu.RLock()
	defer componentTypes.mu.RUnlock()
	out := make([]ComponentTypeInfo, len(componentTypes.infos))
	copy(out, componentTypes.infos)
	return out
}

// ComponentType is a typed handle for component T, obtained once via
// NewComponentType and then passed around as a Component wherever the
// storage API wants to know which component is meant.
type ComponentType[T any] struct {
	id ComponentID
}

// NewComponentType registers T (if not already registered) and returns a
// typed handle for it. T must be a plain data type: the engine never runs
// a constructor or destructor over component bytes, so T must not own
// resources that need releasing.
func NewComponentType[T any]() ComponentType[T] {
	rt := reflect.TypeOf((*T)(nil)).Elem()
	return ComponentType[T]{id: registerComponentType(rt)}
}

// ComponentID implements the Component interface.
func (c ComponentType[T]) ComponentID() ComponentID {
	return c.id
}

// Info returns this component's registered metadata.
func (c ComponentType[T]) Info() ComponentTypeInfo {
	componentTypes.mu.RLock()
	defer componentTypes.mu.RUnlock()
	return componentTypes.infos[c.id]
}
