// Package async runs background work with panic recovery, per-task timeouts
// and logged failures.
//
// SafeGo is for detached work nobody waits on. Group tracks the same kind of
// work so an owner can drain it on close. Batch fans a slice out over a
// bounded number of goroutines and collects the errors.
package async
