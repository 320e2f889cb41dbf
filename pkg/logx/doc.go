// Package logx is serverbot's logger: a thin value type over zerolog whose
// outputs and level follow the logging section of the config, including on
// hot reload.
//
// Loggers derived from a Service keep following it after Apply, so
// components can hold on to the Logger they were built with.
package logx
