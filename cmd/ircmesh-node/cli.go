package main

import "flag"

// Options holds CLI options for the node.
type Options struct {
    ConfigPath string
    EnvFile    string
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
    fs := flag.NewFlagSet("ircmesh-node", flag.ExitOnError)
    var opts Options
    fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
    fs.StringVar(&opts.EnvFile, "env", ".env", "Optional dotenv file loaded before the config")
    _ = fs.Parse(args)
    return opts
}
