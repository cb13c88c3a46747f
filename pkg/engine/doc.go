// Package engine is the composition root that assembles the catalog registry,
// attachment pipelines, router, dispatcher and trace sinks from configuration
// and exposes them through a frontend-agnostic API. Frontends route turns
// through Engine, read the reply stream, and observe activity through an
// EventBus.
package engine
