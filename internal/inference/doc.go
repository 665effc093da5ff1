// Package inference turns per-orientation RFID detections into a posterior
// over grid cells.
//
// ParseReading canonicalizes raw tag ids into an Observation. Likelihood
// scores one cell against one orientation's Observation and expected
// visibility set. BatchUpdater and SequentialUpdater fuse every orientation's
// evidence with a prior and publish the result through Normalize.
//
// Nothing in this package blocks or spawns goroutines. An update either
// applies a complete normalized posterior or returns an error and leaves the
// grid and history as they were.
package inference
