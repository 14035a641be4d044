/*
Package config loads settings for lazily initialized components.

# Overview

Config wraps a decoded YAML or JSON document and offers typed accessors
that fall back to a default on missing keys or type mismatches. Settings is
the typed view applications use to configure cells, registries and retry.

# Basic Usage

	s, err := config.Load("lazyinit.yaml")
	if err != nil {
	    log.Fatal(err)
	}

	pools := registry.New[string, *sql.DB](closeDB,
	    registry.WithName(s.Name),
	    registry.WithWarmLimit(s.WarmLimit),
	)
	db, err := retry.GetOrInit(ctx, &cell, s.Retry, openDB)

# Type Coercion

Duration accepts strings ("30s", "1h30m") and bare numbers of seconds.
Int accepts floats without a fractional part, because JSON numbers decode
as float64. Sub returns a nested section, or an empty Config.

# Thread Safety

Config is safe for concurrent reads. It is never modified after creation.
*/
package config
