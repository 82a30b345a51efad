/*
Package registry publishes container endpoints into etcd.

Each endpoint is written as <prefix><service>/<hostIp>:<index>:<port> with
value <hostIp>:<hostPort> under a leased TTL. Writers re-publish on every
successful health check, so endpoints of dead containers simply expire.
*/
package registry
