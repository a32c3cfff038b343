// Package tracker derives live agent statuses from the hook event stream.
//
// Each agent lifeline is identified by a key of the form
// "sourceApp:sessionPrefix". Events fold into an in-memory state map via
// Apply; a periodic sweep (Run) decays states that have gone quiet, and
// Restore rebuilds the map from the persisted event log after a restart.
//
// Subagent work is modeled as ephemeral task entries keyed
// "parentKey~taskN". Completion events carry no correlation id, so tasks
// resolve oldest-first per parent.
package tracker
