/*
Package events carries service lifecycle notifications between services.

A Hub dispatches started/allStarted/stopped events to handlers registered
while the application links its dependency graph. Fan-out is static and
delivery is guaranteed and ordered: one dispatch goroutine invokes every
handler per event, so "dependency stopped, stop me" and "dependency started,
resume my start" can never miss a transition. Handlers defer real work to
their own queues.
*/
package events
