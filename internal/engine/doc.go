// Package engine implements the recursive batch executor.
//
// An execution answers one normalized criteria tree against datastores that
// cannot join with each other. It works node by node:
//
//  1. Fetch: page the node's entity from its datastore. Every page lands in
//     a heap buffer named after the node's path, so sibling and ancestor
//     branches never write the same identity.
//  2. Descend: for each WHOSE subquery in the node's where clause, resolve
//     the association rule, derive child criteria from the page, and run the
//     child as a node of its own.
//  3. Ascend: back-filter the page with each child's final records, honouring
//     the subquery's min/max bounds. Pages keep coming until enough parents
//     survive to fill skip+limit.
//  4. Populate: for each association projected by select, fetch the related
//     records of the surviving parents and keep those still linked.
//
// The integrator then walks the root survivors, attaches populated children
// (sorted and paged per parent) and stores the assembled records in the
// result cache.
//
// Buffer identities:
//
//	person                        final survivors of the root node
//	person#0                      first raw page of the root node
//	person#0.where.pet            WHOSE branch of page 0 on person.pet
//	person.select.pets            population branch of person.pets
//	person.select.toys~links      junction footprints of that branch
//
// Heap and cache live exactly as long as one Execute call. Sibling branches
// run concurrently; a node's back-filter always runs after every branch
// below it has finished. Any adapter failure aborts the whole execution and
// nothing partial is returned.
//
// An association that cannot be resolved (related entity missing from the
// registry, or its datastore unable to find) contributes an empty related
// set and is logged at warn level rather than failing the query.
package engine
