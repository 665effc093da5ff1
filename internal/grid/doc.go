// Package grid owns the static search topology: a fixed rectangular
// arrangement of cells, each holding one or more RFID tag ids and the
// probability that the target tag sits at that cell.
//
// The id and coordinate indexes are built once in New. Probabilities are
// only changed through Apply and Reset, which the inference updaters use to
// publish a fully normalized posterior in one step.
package grid
