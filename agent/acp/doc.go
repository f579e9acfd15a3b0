// Package acp serves CoDoc sessions over the Agent Client Protocol: JSON-RPC
// 2.0, one message per line, on stdin and stdout.
//
// Requests:
//   - initialize: protocol version and capabilities
//   - session/new, session/load: open a session; load replays the saved
//     conversation followed by an initialize event
//   - session/prompt: text blocks plus resource_link blocks; file URIs are
//     forwarded to the planner as reference files
//   - session/reset
//   - specialInstructions/create, update, delete, setActive
//   - proposal/accept, proposal/reject: by proposalId or document handle,
//     with an optional {"start","end"} range
//
// Notifications:
//   - session/update: conversation progress
//   - document/open, document/highlight, document/close: the server is the
//     editor's proposal.Surface
//   - proposal/changed: every proposal create, update and close
package acp
