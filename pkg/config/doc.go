/*
Package config loads the kiruna service manifest.

The manifest is a UTF-8 JSON file located via the KIRUNA_CONF environment
variable, falling back to kiruna.conf in the working directory. Loading runs
in stages: variable resolution (with cycle detection), whole-tree "${ key }"
expansion with process-environment fallback, Defaults merging under every
service entry, typed decoding, and validation.

The package also provides the fsnotify-based manifest watcher that feeds the
supervisor debounced change notifications.
*/
package config
