// Package util holds small helpers shared across packages: size parsing
// for config values and string shortening for log previews.
package util
