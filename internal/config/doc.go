// Package config loads and validates the load balancer configuration from
// defaults, an optional YAML file and command line overrides.
package config
