/*
Package engine abstracts the container engine behind a small interface and
serializes access to it.

The Docker implementation wraps the Docker SDK client; Serialize funnels all
calls through a single FIFO queue so that at most one engine call is in
flight at a time, in submission order. Every implementation normalizes its
404-equivalent errors so callers test them with IsNotFound regardless of the
engine behind the interface.
*/
package engine
