/*package error contains simple functions for reporting vlsv errors that can't
be returned to the caller. Errors a user can fix are returned instead, and
reported by the command line tool.
*/
package error

import (
	"fmt"
	"log"
	"os"
	"runtime/debug"
)

// Exit is called after a fatal error has been reported. It is a variable so
// that tests can intercept it.
var Exit = os.Exit

// Internal reports an error to stderr along with a stack trace and kills the
// process. It should be used when the error requires a code dive to fix, e.g.
// an invariant that the library has just proven to hold is violated, or a
// worker process calls a master-only function. It has the same signature at
// the standard fmt.*printf() functions.
func Internal(format string, a ...interface{}) {
	log.Println("vlsv exited early with the following error:")
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n\n")
	debug.PrintStack()
	Exit(1)
}
