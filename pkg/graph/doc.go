// Package graph provides the authorized request executor for the Microsoft
// Graph API. Business operations live with the collaborators consuming the
// Executor; this package only handles credential injection, refresh-on-
// rejection, and bounded retry.
package graph
