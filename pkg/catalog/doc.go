// Package catalog maintains the set of models an upstream currently serves,
// annotated with capabilities inferred from their identifiers.
//
// Capability inference is a pure ordered predicate table over the model id
// (see [InferCapabilities]); it performs no I/O and depends only on the
// configured role ids held in a [Blueprint]. A [Catalog] is immutable once
// built. The [Registry] owns the process-wide cache cell: it refreshes the
// catalog from a [Lister] when the cached copy expires, swaps the new catalog
// in atomically, and falls back to the last good catalog or to a static id
// list when the upstream cannot be reached. Registry.Catalog never fails.
package catalog
