// Package filelock provides cross-process mutual exclusion on top of flock(2).
//
// A [FileLock] guards a small piece of shared on-disk state (for example the
// task-id counter of a pipeline) against concurrent xflow processes that
// share the same project directory. Locks are advisory and held per open file
// description, so two FileLock values in the same process also exclude each
// other.
//
//	fl := filelock.New(filepath.Join(dir, "taskid.lock"))
//	if err := fl.Lock(ctx); err != nil {
//	    return err
//	}
//	defer fl.Unlock()
package filelock
