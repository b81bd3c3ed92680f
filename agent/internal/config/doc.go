// Package config loads and watches the `agent:` section of config.yaml.
//
// Load(path) applies defaults (1s poll interval, 30s max backoff, 10s request
// timeout, 30s monitor interval, info logging) and then validates.
// broker_endpoint is required.
//
// Watch(ctx, path, onChange) reloads the file whenever it changes on disk.
package config
