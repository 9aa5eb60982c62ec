// Package cli implements the workerbridge command.
//
// Configuration is layered by viper: flags override WORKERBRIDGE_* environment
// variables, which override a YAML config file, which overrides defaults.
// Logs go to stderr through logrus; stdout carries only event JSON lines.
package cli
