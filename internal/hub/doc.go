// Package hub fans engine updates out to WebSocket observers.
//
// Every message travels in an Envelope with a type tag. A newly connected
// observer receives a snapshot (recent events, then the agent state map)
// before any live broadcast, so it never renders from a gap.
package hub
