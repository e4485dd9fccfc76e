// Package component implements the component registry of compmgr.
//
// A Manager owns an ordered set of named sub-components. Components are
// added with AddComponent, looked up with GetComponent and detached with
// RemoveComponent. Instance names are unique among the siblings of one
// manager, components become visible only once fully linked, and a
// component added to an initialized manager is brought up right away,
// outside the registry locks.
package component
