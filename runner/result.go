package runner

import "fmt"

// Result is the outcome of one JMeter invocation. It has exactly two
// variants, built through Success and Failure; a result is never both
// and never neither.
type Result struct {
	ok           bool
	outputDir    string
	errorMessage string
}

// Success builds a result for a clean exit, carrying the directory the
// run's report and results log were written to.
func Success(outputDir string) Result {
	return Result{ok: true, outputDir: outputDir}
}

// Failure builds a result for a failed run with a human-readable reason
func Failure(format string, args ...interface{}) Result {
	return Result{errorMessage: fmt.Sprintf(format, args...)}
}

// OK reports whether the run succeeded
func (r Result) OK() bool {
	return r.ok
}

// OutputDir returns the output location of a successful run, "" otherwise
func (r Result) OutputDir() string {
	return r.outputDir
}

// ErrorMessage returns the failure detail of a failed run, "" otherwise
func (r Result) ErrorMessage() string {
	return r.errorMessage
}
