// Package hitl correlates human responses with the blocking
// human-in-the-loop requests that agents embed in hook events.
//
// A request is answered at most once; the pending -> responded transition
// is enforced by the store. If the request names a callback URL, the
// response is also delivered there best-effort so the blocked agent can
// resume without polling.
package hitl
