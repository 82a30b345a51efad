/*
Package supervisor sequences config changes into application rollouts.

Each change notification becomes one task on a collapse queue: bursts fold
into the newest pending task. A task loads and validates the manifest,
builds the next application, marks the previous one stopping, launches, and
swaps on success. Any failure keeps the previous application active; the
daemon never exits over a bad reload.
*/
package supervisor
