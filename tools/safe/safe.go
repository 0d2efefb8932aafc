package safe

import (
	"runtime/debug"

	"TalentLink/logger"
)

// Go starts a new goroutine that recovers from panic,
// so a bad delivery callback doesn't crash the whole process.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe.Go] panic recovered: %v\n%s", r, debug.Stack())
			}
		}()
		f()
	}()
}

// Call invokes f on the current goroutine with panic recovery.
// Used around user-supplied callbacks (subscription onUpdate etc.).
func Call(f func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[safe.Call] panic recovered: %v\n%s", r, debug.Stack())
		}
	}()
	f()
}
