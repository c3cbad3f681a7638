// Package idmap derives and writes the uid/gid mapping tables of a user
// namespace.
//
// A Mapping is pure data: it is computed from the caller's identity and the
// host sub-id registry (/etc/subuid, /etc/subgid) and validated to contain
// pairwise disjoint ranges. Writers install a Mapping into a child process
// exactly once, from the parent, before the child uses its namespace.
package idmap
