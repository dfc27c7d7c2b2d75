// Package app contains the core application logic. It defines the main App
// struct, its configuration and the run lifecycle that takes a project from
// suite expansion to an aggregated pass/fail result, decoupled from the CLI.
package app
