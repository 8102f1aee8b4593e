package bcache

import "github.com/wtcat/gobcache/internal/logging"

// logErrorf forwards to the package-wide default logger. A Cache's own
// operations log through the *logging.Logger it took from
// logging.Default() in NewCache; this is reserved for failures detected outside any single cache
// instance, such as a fatal invariant violation.
func logErrorf(format string, args ...any) {
	logging.Default().Errorf(format, args...)
}
