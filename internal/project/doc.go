// Package project resolves a project identifier to a working directory, a
// runtime command table, and a governance policy.
//
// Registry:
//
// Registered projects live in a JSON file keyed by project id:
//
//	{"demo": {"project_id": "demo", "repo_url": "https://github.com/acme/demo.git",
//	          "path": "/srv/projects/demo", "metadata": {}, "registered_at": "..."}}
//
// The Registry keeps the file in memory and reloads it when another process
// rewrites it (see Registry.Watch).
//
// Per-project configuration:
//
// Each project directory may carry an autopilot.yaml:
//
//	stack: python-fastapi
//	runtime:
//	  test: python -m pytest -q
//	  smoke:
//	    command: uvicorn app.main:app --host 127.0.0.1 --port {port}
//	    port: 8000
//	    health_path: /health
//	governance:
//	  forbidden_paths: ["secrets/"]
//	  require_tests: true
//
// Missing commands fall back to stack defaults.
package project
