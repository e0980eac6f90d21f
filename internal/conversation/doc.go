// Package conversation holds the single session's ordered turn history and
// the drop-oldest-first policy that keeps it inside the context window.
//
// Truncation is computed without mutating the store. The caller commits
// the resulting Window together with the new turns once inference has
// succeeded, so a failed request leaves the history exactly as it was.
package conversation
