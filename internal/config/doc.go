// Package config defines the service configuration model and the Loader
// interface for reading it. The concrete HCL implementation lives alongside;
// an env.* variable map is available inside configuration expressions so
// deployments keep credentials out of the file.
package config
