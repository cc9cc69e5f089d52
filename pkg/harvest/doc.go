// Package harvest implements the resumable pagination loop.
//
// A run loads the resume state replayed from the store, then repeatedly
// fetches the page older than the cursor (through the retrier), saves it
// and waits on the pacer:
//
//	INIT -> FETCHING -> (SAVED -> FETCHING)* -> DONE
//	               \-> FAILED -> DONE
//
// It stops when a page comes back empty, when the item cap is reached or
// when a fetch, save or wait fails. Saved pages are never rewritten, so an
// aborted run is resumed by simply running again.
//
// With Options.Reconcile a catch-up pass first prepends statuses published
// since the newest saved one.
package harvest
