package auth

type Status string

const (
	// StatusPostponed means a redirect was issued; the outcome is only known
	// once the browser comes back and Verify runs.
	StatusPostponed Status = "Postponed"
	StatusNoAuth    Status = "NoAuth"
	StatusSucceeded Status = "Succeeded"
	StatusFailed    Status = "Failed"
)

// Result is what a Provider reports from TryAuth or Verify. State is only set
// when Succeeded, Code only when Failed.
type Result struct {
	Status Status
	State  any
	Code   ErrorCode
}

func Postponed() Result {
	return Result{Status: StatusPostponed}
}

func NoAuth() Result {
	return Result{Status: StatusNoAuth}
}

func Succeeded(state any) Result {
	return Result{Status: StatusSucceeded, State: state}
}

func Failed(code ErrorCode) Result {
	return Result{Status: StatusFailed, Code: code}
}
