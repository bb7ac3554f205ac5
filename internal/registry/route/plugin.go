package route

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/gin-gonic/gin"
)

// Loader mounts a plugin's routes.
type Loader func(r gin.IRouter) error

// RouteType selects the server a plugin's routes belong to.
type RouteType int

const (
	// RouteTypeMain routes are served on the API port.
	RouteTypeMain RouteType = iota
	// RouteTypeManagement routes (health, readiness, metrics) go to the
	// management port when one is configured, else to the API port.
	RouteTypeManagement
)

// Plugin is a named set of routes mounted in Order.
type Plugin struct {
	Name   string
	Order  int
	Type   RouteType
	Loader Loader
}

var plugins []Plugin

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names lists the registered plugins of type t in mount order.
func Names(t RouteType) []string {
	var names []string
	for _, p := range ofType(t) {
		names = append(names, p.Name)
	}
	return names
}

// Mount runs the loaders of every plugin of type t on r.
func Mount(r gin.IRouter, t RouteType) error {
	for _, p := range ofType(t) {
		if err := p.Loader(r); err != nil {
			return fmt.Errorf("mount %s routes: %w", p.Name, err)
		}
	}
	return nil
}

func ofType(t RouteType) []Plugin {
	var out []Plugin
	for _, p := range plugins {
		if p.Type == t {
			out = append(out, p)
		}
	}
	slices.SortStableFunc(out, func(a, b Plugin) int { return cmp.Compare(a.Order, b.Order) })
	return out
}
