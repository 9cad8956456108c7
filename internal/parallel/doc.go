// Package parallel runs batches of work items on a fixed pool of
// goroutines and splits 2D regions into cache-sized tiles.
//
// The software driver uses it to execute compute workgroups and to shade
// rasterized primitives tile by tile. Panics inside work items are captured
// and returned as errors so that a faulty kernel cannot crash the process.
package parallel
