package queue

// ErrorKind classifies an attempt failure for the retry policy.
type ErrorKind string

const (
	// KindValidation: bad input; a retry cannot succeed.
	KindValidation ErrorKind = "validation"
	// KindTransient: an external transform or collaborator failed.
	KindTransient ErrorKind = "transient"
	// KindHung: the watchdog killed a stalled execution.
	KindHung ErrorKind = "hung"
	// KindDeadline: the dynamic runtime deadline aborted the attempt.
	KindDeadline ErrorKind = "deadline"
)

// MaxAttempts is the total number of executions a job definition gets.
const MaxAttempts = 2

// ShouldRetry is the explicit retry policy, decoupled from the queue
// mechanics: every failure except validation gets exactly one retry.
func ShouldRetry(attempt int, kind ErrorKind) bool {
	if kind == KindValidation {
		return false
	}
	return attempt < MaxAttempts
}
