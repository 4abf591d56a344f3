// Package config loads froyo-deploy settings from a YAML file, FROYO_*
// environment variables and built-in defaults, in increasing order of
// precedence for env over file.
//
// Nested keys map to env vars by upper-casing and replacing dots with
// underscores: deploy.default_provider is FROYO_DEPLOY_DEFAULT_PROVIDER.
//
// Credentials (source token, registry password, provider tokens, the state
// passphrase) are normally supplied through the environment rather than the
// file.
package config
