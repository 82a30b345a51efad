/*
Package app assembles one manifest snapshot into a runnable application.

It takes the service specs of a loaded manifest (defaults already merged by
package config), sorts them so dependencies precede dependents (a cycle is
fatal), pulls images sequentially, launches services
in order, and wires the cross-service event fan-out. Once every enabled
service is fully up it runs the janitor: obsolete owned containers are
stopped and removed, and old image tags are pruned down to the retention
bound in semantic-version order.
*/
package app
