// Package buffer holds work produced while the device is OFFLINE.
//
// Records collected during offline ticks are pushed into a bounded Ring;
// when the ring is full the oldest record is dropped so the most recent
// state always survives. On the ONLINE edge the backlog is drained and sent
// to the counterpart ahead of fresh records.
//
// A Spool persists the backlog to a CBOR file so that buffered work also
// survives a warm reset.
package buffer
