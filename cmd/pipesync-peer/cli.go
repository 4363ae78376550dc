package main

import "flag"

// Options holds CLI options for the peer.
type Options struct {
	ConfigPath string
	Identity   int
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("pipesync-peer", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.IntVar(&opts.Identity, "id", 1, "Logical peer identity (1..6)")
	_ = fs.Parse(args)
	return opts
}
