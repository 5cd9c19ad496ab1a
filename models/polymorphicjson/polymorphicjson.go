/*
Package polymorphicjson provides a generic solution for serializing and deserializing
Go interfaces within parent structs using the standard encoding/json package.

It solves the common problem of polymorphism in JSON by injecting two discriminator fields
("json_type" and "interface_name") into the JSON payload, allowing the library to
instantiate the correct concrete struct during unmarshaling (decoding).

--- Usage Example ---

1. Define the interface contract, embedding JSONIdentifiable:

	// Integrator is the contract for all integrators.
	type Integrator interface {
		polymorphicjson.JSONIdentifiable

		Integrate(f Func, y0, times []float64) ([][]float64, int, error)
	}

2. Define the concrete structs, implementing JSONTags, and register a constructor for them:

	type RK4 struct {
		SubSteps int `json:"sub_steps"`
	}

	func (r *RK4) JSONTags() (typeName string, interfaceName string) {
		return "rk4", "ode.Integrator"
	}

	func init() {
		polymorphicjson.Register(func() Integrator { return &RK4{} })
	}

3. Use a Wrapper in the structs to be serialized:

	type Config struct {
		Name       string                                    `json:"name"`
		Integrator polymorphicjson.Wrapper[ode.Integrator] `json:"integrator"`
	}

	cfg := Config{Name: "node", Integrator: polymorphicjson.Wrap[ode.Integrator](&RK4{SubSteps: 4})}
	jsonData, _ := json.Marshal(cfg)
	// {"name":"node","integrator":{"interface_name":"ode.Integrator","json_type":"rk4","sub_steps":4}}

The discriminator fields are added by the Wrapper, the concrete types don't need to declare them.
*/
package polymorphicjson

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

const (
	// TypeKey is the JSON field holding the concrete type name.
	TypeKey = "json_type"

	// InterfaceKey is the JSON field holding the interface name.
	InterfaceKey = "interface_name"
)

// JSONIdentifiable is the constraint interface. Any concrete type must implement
// this method to provide the unique tag for the concrete type and the name
// of the interface it satisfies.
type JSONIdentifiable interface {
	// JSONTags returns the unique name for the concrete type and the unique name for the interface.
	JSONTags() (typeName string, interfaceName string)
}

var (
	// Global registry. Maps the interface name (e.g., "ode.Integrator") to concrete type constructors.
	registry = make(map[string]map[string]func() JSONIdentifiable)

	// Global registry mutex.
	registryMu sync.RWMutex
)

// Register registers a concrete type T by using its JSONTags() method to determine
// its concrete type name and the interface it belongs to.
// T must be a pointer to a struct that implements JSONIdentifiable.
func Register[T JSONIdentifiable](constructor func() T) {
	registryMu.Lock()
	defer registryMu.Unlock()

	// Get names from the instance created by the constructor
	instance := constructor()
	typeName, interfaceName := instance.JSONTags()

	if _, exists := registry[interfaceName]; !exists {
		registry[interfaceName] = make(map[string]func() JSONIdentifiable)
	}

	// Register the constructor under the interface name and the concrete type name
	registry[interfaceName][typeName] = func() JSONIdentifiable {
		return constructor()
	}
}

// TypeWrapper is a minimal struct used only to extract the type tags during the first
// pass of unmarshaling. It includes both the concrete type and the interface name.
type TypeWrapper struct {
	JSONType      string `json:"json_type"`
	InterfaceName string `json:"interface_name"` // For validation
}

// Wrap a value into a Wrapper.
func Wrap[I JSONIdentifiable](value I) Wrapper[I] {
	return Wrapper[I]{Value: value}
}

// Wrapper is the generic type wrapper that implements the standard
// json.Marshaler and json.Unmarshaler interfaces.
// The user places this type in their models:
// type ProjectModel { Integrator Wrapper[ode.Integrator] }
type Wrapper[I JSONIdentifiable] struct {
	Value I
}

// MarshalJSON implements json.Marshaler for the generic wrapper.
func (p Wrapper[I]) MarshalJSON() ([]byte, error) {
	return MarshalPolymorphic(p.Value)
}

// UnmarshalJSON implements json.Unmarshaler for the generic wrapper.
func (p *Wrapper[I]) UnmarshalJSON(b []byte) error {
	// UnmarshalPolymorphic populates p.Value using the two-pass logic.
	return UnmarshalPolymorphic(b, &p.Value)
}

// Get returns the wrapped value.
func (p *Wrapper[I]) Get() I {
	return p.Value
}

// UnmarshalPolymorphic performs the two-pass unmarshaling required for polymorphic types.
// 'I' is the interface type (e.g., ode.Integrator).
// 'target' is a pointer to the generic type's value field.
func UnmarshalPolymorphic[I JSONIdentifiable](b []byte, target *I) error {
	if len(b) == 0 || string(b) == "null" {
		var nilI I
		*target = nilI
		return nil
	}

	// Pass 1: Extract the type tags
	var wrapper TypeWrapper
	if err := json.Unmarshal(b, &wrapper); err != nil {
		return errors.Wrap(err, "polymorphic unmarshal failed to read tags")
	}

	// Look up the concrete type constructor using the extracted InterfaceName and JSONType.
	registryMu.RLock()
	typeMap, ok := registry[wrapper.InterfaceName]
	var constructor func() JSONIdentifiable
	if ok {
		constructor, ok = typeMap[wrapper.JSONType]
	}
	registryMu.RUnlock()
	if typeMap == nil {
		return errors.Errorf("polymorphic unmarshal error: interface %q not registered", wrapper.InterfaceName)
	}
	if !ok {
		return errors.Errorf("polymorphic unmarshal error: unknown concrete type %q for interface %q", wrapper.JSONType, wrapper.InterfaceName)
	}

	// Create an empty instance of the concrete type.
	instance := constructor()

	// Pass 2: Unmarshal the full JSON into the concrete instance.
	if err := json.Unmarshal(b, instance); err != nil {
		return errors.Wrapf(err, "polymorphic unmarshal failed to load data into concrete type %T", instance)
	}
	value, ok := instance.(I)
	if !ok {
		return errors.Errorf("polymorphic unmarshal error: concrete type %T registered for %q doesn't implement %T",
			instance, wrapper.InterfaceName, target)
	}
	*target = value
	return nil
}

// MarshalPolymorphic handles marshaling: it marshals the concrete value, which must be a JSON object,
// and adds the TypeKey and InterfaceKey fields, as reported by its JSONTags method.
func MarshalPolymorphic[I JSONIdentifiable](value I) ([]byte, error) {
	if any(value) == nil {
		return []byte("null"), nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrapf(err, "polymorphic marshal failed for %T", value)
	}
	fields := make(map[string]json.RawMessage)
	if err = json.Unmarshal(raw, &fields); err != nil {
		return nil, errors.Wrapf(err, "polymorphic marshal requires %T to be encoded as a JSON object", value)
	}
	typeName, interfaceName := value.JSONTags()
	fields[TypeKey] = must(json.Marshal(typeName))
	fields[InterfaceKey] = must(json.Marshal(interfaceName))
	return json.Marshal(fields)
}

func must(b []byte, err error) json.RawMessage {
	if err != nil {
		panic(err)
	}
	return b
}
