// Package flock implements the per-channel election coordinator: the
// claim/heartbeat/resign/discovery state machine, failure-detector
// timing, local member registry, and message dispatch for a
// single-leader coordination fabric.
//
// Typical usage:
//
//	f := factory.Default().Get(flock.Config{ChannelName: "jobs"})
//	f.Register(member)
//	defer f.Unregister(member.ID())
//
// Most callers should go through pkg/member and pkg/factory instead of
// using Flock directly; Flock is the coordinator a Member delegates to.
package flock
