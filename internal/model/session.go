package model

// SessionState enumerates one student's timed exam attempt.
type SessionState string

const (
	SessionNotStarted     SessionState = "not_started"
	SessionLoading        SessionState = "loading"
	SessionRunning        SessionState = "running"
	SessionSubmitting     SessionState = "submitting"
	SessionFinished       SessionState = "finished"
	SessionAbortedFlagged SessionState = "aborted_flagged"
)
