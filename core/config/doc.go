// Package config loads mosaik.yaml and turns it into the explicit values the
// rest of the process needs: engine options, logging options and the provider
// registry.
//
// Values of the form ${VAR} are expanded from the environment after an
// optional .env file next to the configuration has been loaded. A missing
// configuration file is not an error; defaults apply.
package config
