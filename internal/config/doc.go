// Package config provides configuration structures and utilities for dumpscan.
// It defines the extraction limits, output preferences and the optional
// .dumpscan YAML file that extends the driver knowledge base.
package config
