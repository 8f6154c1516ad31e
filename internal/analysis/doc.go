// Package analysis defines the analyzer contract shared by every content
// handler: the Document an analyzer fills, the token streams fed to the
// search backend, the one-shot cross-reference render, and the Registry
// that picks an analyzer for a (name, content) pair.
package analysis
