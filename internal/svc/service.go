// Copyright 2025 James Ross
package svc

// Service is the uniform contract every pipeline service implements: the
// six standard CRUD verbs, each taking the full call Context so it can read
// tenant/method/params and set Result/Err. A service that does not support a
// method should embed Unimplemented and only override what it supports;
// Capabilities() gates the unsupported ones before they are ever called.
type Service[R any, P any] interface {
	Capabilities() Capabilities
	Find(*Context[R, P]) (R, error)
	Get(*Context[R, P]) (R, error)
	Create(*Context[R, P]) (R, error)
	Update(*Context[R, P]) (R, error)
	Patch(*Context[R, P]) (R, error)
	Remove(*Context[R, P]) (R, error)
}

// Unimplemented provides "not implemented" defaults for all six CRUD verbs
// and StandardCRUD capabilities, so concrete services only need to define the
// methods they actually support.
type Unimplemented[R any, P any] struct{}

func (Unimplemented[R, P]) Capabilities() Capabilities { return StandardCRUD() }

func (Unimplemented[R, P]) notImplemented(c *Context[R, P]) (R, error) {
	var zero R
	return zero, notImplementedErr(c.Path, c.Method)
}

func (u Unimplemented[R, P]) Find(c *Context[R, P]) (R, error)   { return u.notImplemented(c) }
func (u Unimplemented[R, P]) Get(c *Context[R, P]) (R, error)    { return u.notImplemented(c) }
func (u Unimplemented[R, P]) Create(c *Context[R, P]) (R, error) { return u.notImplemented(c) }
func (u Unimplemented[R, P]) Update(c *Context[R, P]) (R, error) { return u.notImplemented(c) }
func (u Unimplemented[R, P]) Patch(c *Context[R, P]) (R, error)  { return u.notImplemented(c) }
func (u Unimplemented[R, P]) Remove(c *Context[R, P]) (R, error) { return u.notImplemented(c) }

func callServiceMethod[R any, P any](c *Context[R, P], s Service[R, P], method Method) (R, error) {
	switch method {
	case Find:
		return s.Find(c)
	case Get:
		return s.Get(c)
	case Create:
		return s.Create(c)
	case Update:
		return s.Update(c)
	case Patch:
		return s.Patch(c)
	case Remove:
		return s.Remove(c)
	default:
		var zero R
		return zero, notImplementedErr(c.Path, method)
	}
}
