// Package gamereg is the explicit game-module registry: every engine this
// build supports is wired up by name at init time, so dispatch never uses
// reflection and an unknown game type fails fast and loudly.
package gamereg

import (
	"fmt"

	"roomrunner/internal/domain"
	"roomrunner/internal/engine"
)

var modules = map[domain.GameType]engine.Engine{}

// Register binds a game type to its engine implementation. Called from
// main() in cmd/server/main.go during startup wiring; not safe to call
// after the dispatcher has started serving traffic.
func Register(gameType domain.GameType, module engine.Engine) {
	if _, exists := modules[gameType]; exists {
		panic(fmt.Sprintf("gamereg: %s already registered", gameType))
	}
	modules[gameType] = module
}

// Get looks up the engine for a game type in O(1).
func Get(gameType domain.GameType) (engine.Engine, bool) {
	m, ok := modules[gameType]
	return m, ok
}

// Types lists every registered game type, for admin/listing endpoints.
func Types() []domain.GameType {
	out := make([]domain.GameType, 0, len(modules))
	for t := range modules {
		out = append(out, t)
	}
	return out
}
