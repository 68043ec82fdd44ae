package linkage

import (
	"errors"
	"testing"

	"github.com/modkit/loader/loaderr"
	"github.com/modkit/loader/ordered"
	"github.com/go-quicktest/qt"
)

type staticLocalRoot map[string]Symbol

func (r staticLocalRoot) ResolveLocal(name string) (Symbol, bool, error) {
	s, ok := r[name]
	return s, ok, nil
}

func TestResolveFromLocalRoot(t *testing.T) {
	ctx := New(Config{
		Name:       "m",
		LocalRoots: []LocalRoot{staticLocalRoot{"com.acme.Foo": {Name: "com.acme.Foo", Value: 42}}},
	})
	sym, err := ctx.Resolve("com.acme.Foo", false)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(sym.Value.(int), 42))
}

func TestResolveNotFound(t *testing.T) {
	ctx := New(Config{Name: "m"})
	_, err := ctx.Resolve("missing", false)
	qt.Assert(t, qt.IsTrue(errors.Is(err, loaderr.NotFound)))
}

func TestResolveCachesAfterFirstHit(t *testing.T) {
	calls := 0
	root := ResolverFunc(func(name string) (Symbol, bool, error) {
		calls++
		return Symbol{Name: name, Value: calls}, true, nil
	})
	ctx := New(Config{
		Name:              "m",
		HostRuntimeEdge:    root,
		DefaultAppImports: &ordered.Set{},
	})
	first, err := ctx.Resolve("x", false)
	qt.Assert(t, qt.IsNil(err))
	second, err := ctx.Resolve("x", false)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(first.Value, second.Value))
	qt.Assert(t, qt.Equals(calls, 1))
}

func TestDependencyFilteringBothSidesMustPass(t *testing.T) {
	dep := New(Config{
		Name:         "dep",
		LocalRoots:   []LocalRoot{staticLocalRoot{"com.acme.Public": {Name: "com.acme.Public", Value: "public"}}},
		ExportFilter: ordered.NewSet("com/acme/"),
	})
	depPrivate := New(Config{
		Name:         "depPrivate",
		LocalRoots:   []LocalRoot{staticLocalRoot{"com.other.Secret": {Name: "com.other.Secret", Value: "hidden"}}},
		ExportFilter: ordered.NewSet("com/acme/"), // "com.other.Secret" won't match this filter anyway
	})

	consumer := New(Config{
		Name: "consumer",
		Dependencies: []DependencyEdge{
			{Name: "dep", Target: dep},
			{Name: "depPrivate", Target: depPrivate},
		},
		ImportFilter: ordered.NewSet("com/acme/"),
	})

	sym, err := consumer.Resolve("com.acme.Public", false)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(sym.Value.(string), "public"))

	_, err = consumer.Resolve("com.other.Secret", false)
	qt.Assert(t, qt.IsTrue(errors.Is(err, loaderr.NotFound)))
}

type initTracker struct {
	inits int
}

func (t *initTracker) Initialize() error {
	t.inits++
	return nil
}

func TestMustInitializeRunsOnce(t *testing.T) {
	tracker := &initTracker{}
	ctx := New(Config{
		Name:       "m",
		LocalRoots: []LocalRoot{staticLocalRoot{"svc": {Name: "svc", Value: tracker}}},
	})
	_, err := ctx.Resolve("svc", true)
	qt.Assert(t, qt.IsNil(err))
	_, err = ctx.Resolve("svc", true)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(tracker.inits, 1))
}

func TestSystemEdgeIsConsultedBeforeHostRuntimeAndUnfiltered(t *testing.T) {
	system := ResolverFunc(func(name string) (Symbol, bool, error) {
		return Symbol{Name: name, Value: "from-system"}, true, nil
	})
	host := ResolverFunc(func(name string) (Symbol, bool, error) {
		return Symbol{Name: name, Value: "from-host"}, true, nil
	})
	ctx := New(Config{
		Name:              "m",
		SystemEdge:        system,
		HostRuntimeEdge:    host,
		AppImportFilter:   ordered.NewSet("com/acme/"), // would reject org.other.Thing at the host edge
	})
	sym, err := ctx.Resolve("org.other.Thing", false)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(sym.Value.(string), "from-system"))
}

func TestHostRuntimeUsesDefaultAppImportsWhenModuleFilterEmpty(t *testing.T) {
	host := ResolverFunc(func(name string) (Symbol, bool, error) {
		return Symbol{Name: name, Value: "from-host"}, true, nil
	})
	ctx := New(Config{
		Name:              "m",
		HostRuntimeEdge:    host,
		DefaultAppImports: ordered.NewSet("com/acme/"),
	})
	_, err := ctx.Resolve("org.other.Thing", false)
	qt.Assert(t, qt.IsTrue(errors.Is(err, loaderr.NotFound)))

	sym, err := ctx.Resolve("com.acme.Thing", false)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(sym.Value.(string), "from-host"))
}
