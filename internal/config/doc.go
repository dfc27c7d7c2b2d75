// Package config defines the format-agnostic model of a suite configuration
// file (sauce.conf.*), along with the Loader interface implemented once per
// file format.
//
// The `config.Model` is the single source of truth for the `matrix` package.
// The JSON and YAML loaders live here; HCL is provided by `hcl_adapter`.
package config
