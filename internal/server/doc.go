// Package server wires the engine together and exposes its HTTP surface:
// event ingestion, agent state queries, human-in-the-loop responses, theme
// management, the /stream WebSocket, and /metrics.
package server
