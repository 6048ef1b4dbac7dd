package loom

import "github.com/sirupsen/logrus"

// log is the package-level diagnostic logger. The teacher never logs;
// loom adopts logrus (as the rest of the retrieval pack's server-shaped
// repos do) strictly for low-frequency structural events: component
// registration, archetype creation, and chunk-allocator growth and
// disposal. Graph-edge caching is not logged. No per-entity or
// per-chunk-iteration code path calls this logger.
var log logrus.FieldLogger = logrus.StandardLogger()

// SetLogger overrides the package-level logger, e.g. to attach a host
// application's already-configured *logrus.Logger or a *logrus.Entry
// carrying static fields.
func SetLogger(l logrus.FieldLogger) {
	if l == nil {
		l = logrus.StandardLogger()
	}
	log = l
}
