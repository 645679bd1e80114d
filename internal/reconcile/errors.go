package reconcile

import "fmt"

// ErrPrepareConflict is returned by Reconciler.ReconcileLeaf when
// update_select meets a prepared update: the page is left dirty and
// the caller should retry once the preparing transaction resolves.
var ErrPrepareConflict = fmt.Errorf("reconcile: prepare conflict")

// ErrWriteFailed wraps a block manager write failure, leaving the page
// dirty with no published new image per spec §4.8's failure rule.
type ErrWriteFailed struct {
	Err error
}

func (e *ErrWriteFailed) Error() string { return fmt.Sprintf("reconcile: block write failed: %v", e.Err) }
func (e *ErrWriteFailed) Unwrap() error { return e.Err }
