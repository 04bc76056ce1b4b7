/*
Package config provides typed configuration access over dotted keys.

# Overview

A Config is a flat, read-only map keyed by dotted paths such as
"extract.primary_timeout". Accessors never fail: a missing key or a value
that cannot be converted yields the caller's default.

	cfg := config.New(map[string]any{
	    "extract": map[string]any{"primary_timeout": "5s"},
	})

	timeout := cfg.Duration("extract.primary_timeout", 10*time.Second) // 5s
	addr := cfg.String("server.addr", ":8080")                        // ":8080"

# Loading

Load layers a YAML or JSON file (chosen by extension) and the process
environment:

	cfg, err := config.Load("wapiflow.yaml", "WAPIFLOW_")

WAPIFLOW_CHECKPOINT_PATH then overrides checkpoint.path from the file.

# Type Coercion

Environment values are strings, so Int, Float, Bool and Duration all
accept string input. Duration also reads bare numbers as seconds.

# Thread Safety

Config is safe for concurrent reads. It is never modified after creation.
*/
package config
