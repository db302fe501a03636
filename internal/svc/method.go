// Copyright 2025 James Ross
package svc

// Method identifies a service operation. The six standard CRUD verbs plus
// an open Custom escape hatch for service-specific actions.
type Method struct {
	name   string
	custom bool
}

var (
	Find   = Method{name: "find"}
	Get    = Method{name: "get"}
	Create = Method{name: "create"}
	Update = Method{name: "update"}
	Patch  = Method{name: "patch"}
	Remove = Method{name: "remove"}
)

// CustomMethod names a service-specific operation outside the standard CRUD set.
func CustomMethod(name string) Method {
	return Method{name: name, custom: true}
}

func (m Method) String() string { return m.name }

// IsWrite reports whether m mutates state (create, update, or patch).
func (m Method) IsWrite() bool {
	return m == Create || m == Update || m == Patch
}

// Capabilities declares which methods a Service implements. Unimplemented
// methods return a MethodNotAllowed error from the pipeline before the
// service is ever invoked.
type Capabilities struct {
	methods map[Method]bool
}

// StandardCRUD returns a Capabilities set with all six CRUD methods enabled.
func StandardCRUD() Capabilities {
	return FromMethods(Find, Get, Create, Update, Patch, Remove)
}

// Minimal returns a Capabilities set with no methods enabled.
func Minimal() Capabilities {
	return Capabilities{methods: map[Method]bool{}}
}

// FromMethods builds a Capabilities set enabling exactly the given methods.
func FromMethods(methods ...Method) Capabilities {
	m := make(map[Method]bool, len(methods))
	for _, meth := range methods {
		m[meth] = true
	}
	return Capabilities{methods: m}
}

// Allows reports whether method is enabled.
func (c Capabilities) Allows(method Method) bool {
	return c.methods[method]
}

// With returns a copy of c with method additionally enabled.
func (c Capabilities) With(method Method) Capabilities {
	m := make(map[Method]bool, len(c.methods)+1)
	for k, v := range c.methods {
		m[k] = v
	}
	m[method] = true
	return Capabilities{methods: m}
}
