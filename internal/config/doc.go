// Package config defines the panel settings file and helpers to load,
// validate and save it in YAML format.
//
// An optional .env file next to the settings file is loaded first and
// ${VAR} references in the YAML are expanded from the environment, so
// secrets can stay out of the file. Rule definitions live in a separate
// YAML or TOML file referenced by rules_file.
package config
