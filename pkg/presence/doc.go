// Package presence tracks which sessions are viewing which page right now.
//
// A Hub is one named channel held in memory. Members join under a key,
// publish a Payload with Track and drop out with Leave. Each member holds
// one payload at a time, stamped with a hub-wide sequence number, and every
// change pushes the full state to every member through a one-slot mailbox
// that always keeps the newest Sync.
//
// Publisher drives the visitor side: join under the session id, track the
// current page, re-track on navigation. Observer drives the admin side:
// join under a reserved key, never track, and rebuild the de-duplicated
// active set on every sync. Both work over any Channel, either a local Hub
// or a RemoteChannel dialling Handler over websocket.
//
// RedisMirror copies hub state into a Redis hash so that every instance
// can report a cluster-wide active set.
//
// Presence is best effort and eventually consistent. Ordering across
// sessions is not guaranteed.
package presence
