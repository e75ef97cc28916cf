package queue

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"parcelharvest/internal/model"
)

// ErrClosed is returned by Submit once shutdown has begun; the submission
// fails, the process does not.
var ErrClosed = errors.New("scheduler closed")

// ErrQueueFull is returned when a bounded queue is at capacity. The
// caller may retry; the engine never blocks a submitter.
var ErrQueueFull = errors.New("queue at capacity")

// DuplicateSubjectError reports that an equivalent job for the same
// subject is already pending or running. Callers may wait for it or
// resubmit with force refresh.
type DuplicateSubjectError struct {
	Type       model.CollectionType
	SubjectKey string
	ExistingID uuid.UUID
}

func (e *DuplicateSubjectError) Error() string {
	return fmt.Sprintf("duplicate %s job for subject %q (existing job %s)",
		e.Type, e.SubjectKey, e.ExistingID)
}

// IsDuplicateSubject reports whether err is a DuplicateSubjectError.
func IsDuplicateSubject(err error) bool {
	var dup *DuplicateSubjectError
	return errors.As(err, &dup)
}
