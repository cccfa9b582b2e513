// Package upload implements the upload queue: a transactional,
// frame-oriented pipeline that moves bytes from a datasource.Source
// into a GPU resource without blocking the caller, except at the three
// documented stall points (Immediate, Flush and flush-lock-to-disk,
// the last of which lives in package ubersurface).
//
// A Transaction is created with BeginCreate or BeginUpdate, advanced by
// repeated Tick calls (bounded by a frame upload limit and an active
// upload limit so a single frame can't flood the device with copies),
// and consumed once with End. The actual byte staging and command
// recording happens on a bounded worker pool (internal/parallel).
package upload
