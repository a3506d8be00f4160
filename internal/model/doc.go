// Package model defines the feed's data records and the collaborator
// contracts the core consumes.
//
// Records are produced by a DataSource and treated as immutable values by
// every other package. GridPosition is the only piece of mutable state
// described here, and only the navigation controller mutates it.
package model
