// Package drivers classifies loaded kernel modules.
//
// Each module is marked Microsoft or third-party and checked against a table
// of drivers frequently seen in crash reports. Both tables can be extended
// from the configuration file.
package drivers
