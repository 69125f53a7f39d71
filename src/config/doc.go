// Package config defines the configuration of peernet processes and the typed
// key/value Source experiments are assembled from.
//
// Process settings (log level, data directory, service address...) live in
// Config and are populated by the command line through viper. The experiment
// itself is described in a separate file read into a Source. A typical
// experiment, in TOML:
//
//  [simulation]
//  mode = "sim"
//  endtime = 100000
//  seed = 42
//
//  [network]
//  size = 1000
//
//  [transport.tr]
//  class = "uniform"
//  mindelay = 5
//  maxdelay = 50
//
//  [protocol.link]
//  class = "idle"
//  transport = "tr"
//
//  [control.wire]
//  class = "wire"
//  protocol = "link"
//  wirer = "kout"
//  k = 10
//  at = 0
//
// Component lists (protocol, transport, control, init) run in the order given
// by order.<list> when present, alphabetically otherwise.
package config
