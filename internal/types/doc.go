// Package types provides the core data model and interfaces shared across
// the change-feed partition processor. Keeping these in a separate package
// avoids import cycles between the root cfp package and its internal
// implementations.
package types
