// Package cmd implements the command-line interface of dCloud. It provides a
// hierarchical command structure for running a node and for talking to a
// running cloud.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a node (member or client mode) with its admin HTTP server
//   - kv: Key value operations through the admin API of a node (get, put, del, ...)
//   - lock: Lock operations through the admin API of a node (acquire, release)
//   - cloud: Inspects a node (info, stats, health)
//   - mr: Joins the cloud as client node to load datasets and run map/reduce jobs
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set as environment variable DCLOUD_<FLAG> (dashes
// become underscores) or in a .env file. See dcloud -help for a list of all
// commands.
package cmd
