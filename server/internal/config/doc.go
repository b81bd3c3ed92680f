// Package config loads the broker configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - HTTPPort                port for the REST API and WebSocket stream (default 8000)
//   - Log.Level               debug | info | warn | error (default info)
//   - CORS.AllowedOrigins     origins allowed to call the API ("*" for any)
//   - CORS.AllowCredentials   send Access-Control-Allow-Credentials (default true)
//   - RateLimit               per-client admission limit (disabled by default);
//     clients are keyed on the peer address unless TrustForwardedFor is set
//   - Stream.Interval         WebSocket broadcast interval (default 2s, 0 disables)
//   - Alerts                  threshold rules over queue statistics and webhooks;
//     conditions must use a field from ConditionFields and an op from ConditionOps
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, onChange) watches the file's directory and reloads the file
// when it is written or replaced.
package config
