// Package member implements the participant side of the coordination
// fabric: sending requests and one-way messages to whoever Flock says
// is the leader, tracking them until a response or a retry budget runs
// out, and exposing the leader-only actions available once this member
// becomes the leader itself.
package member
