package svc

import (
	"context"
	"testing"

	"github.com/flyingrobots/dogqueue/internal/apperr"
	"github.com/flyingrobots/dogqueue/internal/events"
	"github.com/flyingrobots/dogqueue/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	Name string
}

type widgetParams struct {
	Data string
}

type widgetService struct {
	Unimplemented[widget, widgetParams]
}

func (widgetService) Create(c *Context[widget, widgetParams]) (widget, error) {
	return widget{Name: c.Params.Data}, nil
}

func TestDispatchHookOrdering(t *testing.T) {
	var order []string

	hooks := NewHooks[widget, widgetParams]()
	hooks.AroundAllMethods(func(c *Context[widget, widgetParams], next Next[widget]) (widget, error) {
		order = append(order, "around")
		return next(c.Ctx)
	})
	hooks.BeforeAllMethods(func(c *Context[widget, widgetParams]) error {
		order = append(order, "before")
		return nil
	})
	hooks.AfterAllMethods(func(c *Context[widget, widgetParams]) error {
		order = append(order, "after")
		return nil
	})

	result, err := Dispatch[widget, widgetParams](context.Background(), tenant.New("t1"), "widgets", widgetService{}, hooks, nil, Create, widgetParams{Data: "gadget"})
	require.NoError(t, err)
	assert.Equal(t, "gadget", result.Name)
	assert.Equal(t, []string{"around", "before", "after"}, order)
}

func TestDispatchEmitsStandardEventOnSuccessfulWrite(t *testing.T) {
	hub := events.NewHub()
	var got events.Event
	hub.On(events.Pattern{Service: "widgets", Kind: "*"}, func(_ context.Context, ev events.Event) {
		got = ev
	})

	result, err := Dispatch[widget, widgetParams](context.Background(), tenant.New("t1"), "widgets", widgetService{}, nil, hub, Create, widgetParams{Data: "gadget"})
	require.NoError(t, err)

	assert.Equal(t, "widgets", got.Service)
	assert.Equal(t, events.Created, got.Kind)
	assert.Equal(t, "t1", got.TenantID)
	assert.Equal(t, result, got.Data)
}

func TestDispatchSkipsEventOnFailure(t *testing.T) {
	hub := events.NewHub()
	fired := false
	hub.On(events.Pattern{Service: "widgets", Kind: "*"}, func(_ context.Context, ev events.Event) {
		fired = true
	})

	hooks := NewHooks[widget, widgetParams]()
	hooks.BeforeCreate(func(c *Context[widget, widgetParams]) error {
		return apperr.NewBadRequest("missing data")
	})

	_, err := Dispatch[widget, widgetParams](context.Background(), tenant.New("t1"), "widgets", widgetService{}, hooks, hub, Create, widgetParams{Data: "x"})
	require.Error(t, err)
	assert.False(t, fired, "no event should fire when the call fails")
}

func TestDispatchMethodNotAllowed(t *testing.T) {
	_, err := Dispatch[widget, widgetParams](context.Background(), tenant.New("t1"), "widgets", widgetService{}, nil, nil, Find, widgetParams{})
	var appErr *apperr.Error
	require.True(t, apperr.As(err, &appErr))
	assert.Equal(t, apperr.MethodNotAllowed, appErr.Kind)
}

func TestDispatchBeforeHookShortCircuitsService(t *testing.T) {
	called := false
	hooks := NewHooks[widget, widgetParams]()
	hooks.BeforeCreate(func(c *Context[widget, widgetParams]) error {
		return apperr.NewBadRequest("missing data")
	})

	svcImpl := widgetServiceSpy{onCreate: func() { called = true }}
	_, err := Dispatch[widget, widgetParams](context.Background(), tenant.New("t1"), "widgets", svcImpl, hooks, nil, Create, widgetParams{Data: "x"})

	require.Error(t, err)
	assert.False(t, called, "service method must not run once a before hook errors")
}

func TestDispatchErrorHookRunsOnServiceFailure(t *testing.T) {
	errorHookRan := false
	hooks := NewHooks[widget, widgetParams]()
	hooks.ErrorAllMethods(func(c *Context[widget, widgetParams]) error {
		errorHookRan = true
		return nil
	})

	svcImpl := widgetServiceSpy{failCreate: true}
	_, err := Dispatch[widget, widgetParams](context.Background(), tenant.New("t1"), "widgets", svcImpl, hooks, nil, Create, widgetParams{Data: "x"})

	require.Error(t, err)
	assert.True(t, errorHookRan)
}

func TestDispatchBeforeHookSetResultSkipsServiceAndRunsAfter(t *testing.T) {
	serviceCalled := false
	afterRan := false

	hooks := NewHooks[widget, widgetParams]()
	hooks.BeforeCreate(func(c *Context[widget, widgetParams]) error {
		c.SetResult(widget{Name: "cached"})
		return nil
	})
	hooks.AfterAllMethods(func(c *Context[widget, widgetParams]) error {
		afterRan = true
		return nil
	})

	svcImpl := widgetServiceSpy{onCreate: func() { serviceCalled = true }}
	result, err := Dispatch[widget, widgetParams](context.Background(), tenant.New("t1"), "widgets", svcImpl, hooks, nil, Create, widgetParams{Data: "x"})

	require.NoError(t, err)
	assert.False(t, serviceCalled, "service method must not run once a before hook sets Result")
	assert.True(t, afterRan, "after hooks still run on a short-circuited result")
	assert.Equal(t, "cached", result.Name)
}

func TestDispatchBeforeHookSetResultStillEmitsStandardEvent(t *testing.T) {
	hub := events.NewHub()
	var got events.Event
	hub.On(events.Pattern{Service: "widgets", Kind: "*"}, func(_ context.Context, ev events.Event) {
		got = ev
	})

	hooks := NewHooks[widget, widgetParams]()
	hooks.BeforeCreate(func(c *Context[widget, widgetParams]) error {
		c.SetResult(widget{Name: "cached"})
		return nil
	})

	_, err := Dispatch[widget, widgetParams](context.Background(), tenant.New("t1"), "widgets", widgetService{}, hooks, hub, Create, widgetParams{Data: "x"})
	require.NoError(t, err)
	assert.Equal(t, events.Created, got.Kind)
	assert.Equal(t, "cached", got.Data.(widget).Name)
}

type widgetServiceSpy struct {
	Unimplemented[widget, widgetParams]
	onCreate   func()
	failCreate bool
}

func (s widgetServiceSpy) Create(c *Context[widget, widgetParams]) (widget, error) {
	if s.onCreate != nil {
		s.onCreate()
	}
	if s.failCreate {
		return widget{}, apperr.NewGeneralError("boom")
	}
	return widget{Name: c.Params.Data}, nil
}
