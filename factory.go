package loom

// factory is the package's single constructor namespace, mirroring the
// teacher's Factory global for discoverability.
type factory struct{}

// Factory is the global factory instance.
var Factory factory

// NewWorld creates a new World.
func (f factory) NewWorld() (*World, error) {
	return NewWorld()
}

// FactoryNewComponent creates a new AccessibleComponent for type T,
// registering T as a component if it hasn't been already.
func FactoryNewComponent[T any]() AccessibleComponent[T] {
	return NewAccessibleComponent[T]()
}

// FactoryNewCache creates a new Cache with the given capacity.
func FactoryNewCache[T any](capacity int) *SimpleCache[T] {
	return &SimpleCache[T]{
		itemIndices: make(map[string]int),
		maxCapacity: capacity,
	}
}
