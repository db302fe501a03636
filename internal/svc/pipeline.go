// Copyright 2025 James Ross
package svc

import (
	"context"
	"fmt"

	"github.com/flyingrobots/dogqueue/internal/apperr"
	"github.com/flyingrobots/dogqueue/internal/events"
	"github.com/flyingrobots/dogqueue/internal/tenant"
)

func notImplementedErr(path string, method Method) *apperr.Error {
	return apperr.New(apperr.MethodNotAllowed, fmt.Sprintf("%s does not implement %s", path, method))
}

// Dispatch runs the full around → before → service → after → error pipeline
// for one call and returns the final result or error. The around chain wraps
// everything else: the first-registered around hook is outermost, so it sees
// the call before any other hook and controls whether (and when) it proceeds
// via Next. On a successful standard CRUD method (create/update/patch/
// remove), and only then, the result is broadcast through hub under
// Pattern{path, kind} — hub may be nil to skip broadcasting entirely.
func Dispatch[R any, P any](ctx context.Context, tctx tenant.Ctx, path string, s Service[R, P], hooks *ServiceHooks[R, P], hub *events.Hub, method Method, params P) (R, error) {
	var zero R
	if hooks == nil {
		hooks = NewHooks[R, P]()
	}
	if !s.Capabilities().Allows(method) {
		return zero, notImplementedErr(path, method)
	}

	hctx := &Context[R, P]{Ctx: ctx, Tenant: tctx, Path: path, Method: method, Params: params}

	core := Next[R](func(ctx context.Context) (R, error) {
		hctx.Ctx = ctx
		runPhases(hctx, s, hooks, method)
		return hctx.Result, hctx.Err
	})

	next := core
	arounds := collectMethodHooks(hooks.AroundAll, hooks.AroundBy, method)
	for i := len(arounds) - 1; i >= 0; i-- {
		hook := arounds[i]
		inner := next
		next = func(ctx context.Context) (R, error) {
			return hook(hctx, inner)
		}
	}

	result, err := next(ctx)
	hctx.Result, hctx.Err = result, err
	if err == nil && hub != nil {
		if kind, ok := events.MethodToStandardEvent(method.String()); ok {
			hub.Emit(ctx, events.Event{Service: path, Kind: kind, TenantID: tctx.TenantID, Data: result})
		}
	}
	return result, err
}

// runPhases runs before → service method → after, routing any failure at any
// phase through the error hooks exactly once. A before hook that calls
// Context.SetResult short-circuits: the service method is skipped and the
// pipeline proceeds directly to the after hooks with that Result.
func runPhases[R any, P any](hctx *Context[R, P], s Service[R, P], hooks *ServiceHooks[R, P], method Method) {
	for _, before := range collectMethodHooks(hooks.BeforeAll, hooks.BeforeBy, method) {
		if err := before(hctx); err != nil {
			hctx.Err = err
			runErrorHooks(hctx, hooks, method)
			return
		}
		if hctx.shortCircuit {
			break
		}
	}

	if !hctx.shortCircuit {
		result, err := callServiceMethod(hctx, s, method)
		hctx.Result, hctx.Err = result, err
		if err != nil {
			runErrorHooks(hctx, hooks, method)
			return
		}
	}

	for _, after := range collectMethodHooks(hooks.AfterAll, hooks.AfterBy, method) {
		if err := after(hctx); err != nil {
			hctx.Err = err
			runErrorHooks(hctx, hooks, method)
			return
		}
	}
}

func runErrorHooks[R any, P any](hctx *Context[R, P], hooks *ServiceHooks[R, P], method Method) {
	hctx.Err = apperr.Normalize(hctx.Err)
	for _, eh := range collectMethodHooks(hooks.ErrorAll, hooks.ErrorBy, method) {
		_ = eh(hctx)
	}
}
