// Package builtin assembles the registry of the connectors shipped with
// bugwarrior.
package builtin

import (
	"github.com/mschirtzinger/bugwarrior/internal/service"
	"github.com/mschirtzinger/bugwarrior/internal/service/file"
	"github.com/mschirtzinger/bugwarrior/internal/service/github"
)

// Registry returns a registry holding every built-in connector.
func Registry() *service.Registry {
	r := service.NewRegistry()
	r.Register(github.Definition())
	r.Register(file.Definition())
	return r
}
