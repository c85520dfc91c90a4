// Package config handles configuration loading for widget-gateway.
//
// # Configuration Sources
//
// Configuration is loaded from a YAML file with environment variable
// expansion: any ${VAR_NAME} in the file is replaced with the value of the
// corresponding environment variable (empty string when unset).
//
// # Example
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
//	database:
//	  path: "./widget-gateway.db"
//
//	upstream:
//	  base_url: "https://api.example.com/v1"
//	  api_key: "${UPSTREAM_API_KEY}"
//	  timeout: "30s"
//
//	auth:
//	  jwt_secret: "${JWT_SECRET}"
//
//	widget:
//	  allowed_origins:
//	    - "https://docs.example.com"
//	  idle_timeout: "60s"
//
//	logging:
//	  level: "info"
//	  format: "json"
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// Duration fields accept Go duration strings ("30s", "2m", "1h30m").
// Load validates required fields and returns a descriptive error for the
// first failure it finds.
package config
