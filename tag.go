package atom

// Taggable is implemented by registers and scopes
type Taggable interface {
	GetTag(tag any) (any, bool)
	SetTag(tag any, val any)
}

// Tag is a type-safe key for metadata
type Tag[T any] struct {
	key string
}

// NewTag creates a new tag with the given key
func NewTag[T any](key string) Tag[T] {
	return Tag[T]{key: key}
}

// Key returns the tag's key (for debugging)
func (t Tag[T]) Key() string {
	return t.key
}

// Get retrieves the tag value from a register or scope
func (t Tag[T]) Get(holder Taggable) (T, bool) {
	val, ok := holder.GetTag(t)
	if !ok {
		var zero T
		return zero, false
	}
	return val.(T), true
}

// GetOrDefault retrieves the tag value or returns a default
func (t Tag[T]) GetOrDefault(holder Taggable, defaultVal T) T {
	if val, ok := t.Get(holder); ok {
		return val
	}
	return defaultVal
}

// Set stores the tag value on a register or scope
func (t Tag[T]) Set(holder Taggable, val T) {
	holder.SetTag(t, val)
}

// GetFromScope retrieves the tag value from a scope
func (t Tag[T]) GetFromScope(scope *Scope) (T, bool) {
	return t.Get(scope)
}

// SetOnScope stores the tag value on a scope
func (t Tag[T]) SetOnScope(scope *Scope, val T) {
	t.Set(scope, val)
}

var (
	componentTag = NewTag[string]("atom.component")
)

// Component is the tag naming the component a register belongs to.
// Extensions use it as a grouping label.
func Component() Tag[string] {
	return componentTag
}
