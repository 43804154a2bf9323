/*
Package config loads and validates the hub's YAML configuration.

Defaults are applied first, then the file (if present) is overlaid, then
the result is validated with go-playground/validator struct tags.
Watch hot-reloads the log level when the file changes; all other keys
take effect at the next restart.
*/
package config
