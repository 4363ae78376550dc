//go:build windows

package config

const defaultChannelKind = "pipe"
