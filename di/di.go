// Package di wires the habitcache components into a samber/do injector.
package di

import "github.com/samber/do/v2"

type Injector = do.Injector

type RootScope = do.RootScope

// New creates a root injector.
var New = do.New

var NewWithOpts = do.NewWithOpts

// Generic helpers cannot be re-exported as vars; call them through do:
//
//	injector := di.New()
//	di.Register(injector, di.Options{ConfigFile: "configs/habitcache.yaml"})
//	engine := do.MustInvoke[*cache.Engine](injector)
