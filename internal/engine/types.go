// Package engine implements the Asset Engine (spec.md §4.G): the state
// machine sequencing import requests and build jobs, detecting staleness,
// and emitting manifests.
package engine

import "github.com/foundryforge/foundry/internal/dataset"

// State is the engine's position in the cycle spec.md §4.G draws:
// Idle -> Importing -> Idle -> Building -> Idle.
type State string

const (
	Idle      State = "idle"
	Importing State = "importing"
	Building  State = "building"
)

// LogEntry is one structured record from a Tick, left unformatted for the
// caller to render (the CLI demo harness tables it with go-pretty; nothing
// in this package knows how a terminal looks).
type LogEntry struct {
	Level      string
	SourcePath string
	AssetId    *dataset.AID
	Message    string
}

func infoLog(msg string) LogEntry       { return LogEntry{Level: "info", Message: msg} }
func errorLog(msg string) LogEntry      { return LogEntry{Level: "error", Message: msg} }
func sourceLog(lvl, path, msg string) LogEntry {
	return LogEntry{Level: lvl, SourcePath: path, Message: msg}
}
func assetLog(lvl string, aid dataset.AID, msg string) LogEntry {
	id := aid
	return LogEntry{Level: lvl, AssetId: &id, Message: msg}
}
