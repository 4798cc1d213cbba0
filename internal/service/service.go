// Package service defines the connector contract, the registry of
// connector definitions, and the fan-in that flattens every target's issue
// stream into the single stream the sync engine consumes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/mschirtzinger/bugwarrior/internal/config"
	"github.com/mschirtzinger/bugwarrior/internal/issue"
	"github.com/mschirtzinger/bugwarrior/internal/uda"
)

// Connector fetches the issues of one configured target.
type Connector interface {
	// Target returns the configured target name.
	Target() string

	// Service returns the connector type, e.g. "github".
	Service() string

	// Issues calls emit once per issue. A non-nil error from emit stops
	// the fetch and is returned.
	Issues(ctx context.Context, emit func(*issue.Issue) error) error
}

// Constructor builds a connector for a target section.
type Constructor func(target string, opts config.TargetOptions, logger *log.Logger) (Connector, error)

// Definition is the static declaration of one connector type.
type Definition struct {
	Service string

	// IdentityFields are the fields whose values form the fingerprint, in
	// order.
	IdentityFields []string

	// Schema lists the custom fields the connector writes.
	Schema []uda.Field

	New Constructor
}

// UDAs implements uda.Declarer.
func (d Definition) UDAs() []uda.Field { return d.Schema }

// Fingerprint computes the fingerprint of an issue or task of this service.
func (d Definition) Fingerprint(fields issue.Getter) (issue.Fingerprint, error) {
	return issue.ComputeFingerprint(d.Service, d.IdentityFields, fields)
}

// Owns reports whether fields carry every identity field of this service,
// which is how a stored task is attributed to a service.
func (d Definition) Owns(fields issue.Getter) bool {
	if len(d.IdentityFields) == 0 {
		return false
	}
	for _, key := range d.IdentityFields {
		v, ok := fields.Get(key)
		if !ok || issue.FormatValue(v) == "" {
			return false
		}
	}
	return true
}

// Target is a configured target resolved against the registry.
type Target struct {
	Name       string
	Definition Definition
	Connector  Connector
}

// Record is one element of the flattened issue stream: either an issue or
// the fetch failure of a target.
type Record struct {
	Target string
	Issue  *issue.Issue
	Err    *FetchError
}

// FetchError reports that a target failed to produce its issues.
type FetchError struct {
	Target  string
	Service string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.Target, e.Service, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ErrUnknownService is returned for a target naming an unregistered
// service.
var ErrUnknownService = errors.New("unknown service")
