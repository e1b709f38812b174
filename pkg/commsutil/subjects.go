package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	// SubjectRPCRequest is the subject the COMMS transport adapter serves
	// dispatch requests on.
	SubjectRPCRequest = "rpc.dispatch.request"
	// SubjectDispatchCompleted is the global dispatch completion event subject.
	SubjectDispatchCompleted = "rpc.dispatch.completed"
)

// BuildCompletedSubject builds a granular dispatch completion subject for
// one (category, path). Path separators become subject tokens.
func BuildCompletedSubject(category, path string) string {
	safe := strings.ReplaceAll(path, "/", ".")
	return fmt.Sprintf("%s.%s.%s", SubjectDispatchCompleted, category, safe)
}
